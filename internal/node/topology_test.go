package node

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopology(t *testing.T) {
	t.Parallel()

	topo, err := ParseTopology(
		[]string{"cp1,cp2", " ", "cp3"},
		[]string{"w1, ,w2"},
		Defaults{User: "ubuntu"},
	)
	require.NoError(t, err)

	require.Len(t, topo.ControlPlanes, 3)
	require.Len(t, topo.Workers, 2)
	assert.Equal(t, "cp1", topo.FirstControlPlane().Host())
	assert.Equal(t, 5, topo.Len())
	assert.True(t, topo.IsHA())
}

func TestParseTopology_InvalidAddress(t *testing.T) {
	t.Parallel()

	_, err := ParseTopology([]string{"cp1"}, []string{"w1:99999"}, Defaults{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker node list")

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestTopology_ValidateNoOverlapSucceeds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cps     []string
		workers []string
	}{
		{"single control plane", []string{"10.0.0.1"}, nil},
		{"control plane and workers", []string{"10.0.0.1"}, []string{"10.0.0.2", "10.0.0.3"}},
		{"ha", []string{"cp1", "cp2", "cp3"}, []string{"w1"}},
		{"mixed address families", []string{"10.0.0.1", "[fd00::1]"}, []string{"node-3.example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseTopology(tt.cps, tt.workers, Defaults{})
			assert.NoError(t, err)
		})
	}
}

func TestTopology_ValidateDuplicateHostFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cps     []string
		workers []string
	}{
		{"duplicate within control planes", []string{"10.0.0.1", "10.0.0.1"}, nil},
		{"duplicate within workers", []string{"cp1"}, []string{"w1", "w1"}},
		{"duplicate across lists", []string{"10.0.0.1"}, []string{"10.0.0.1"}},
		{"differing users", []string{"root@10.0.0.1"}, []string{"admin@10.0.0.1"}},
		{"differing ports", []string{"10.0.0.1:22"}, []string{"10.0.0.1:2222"}},
		{"hostname case", []string{"Node1"}, []string{"node1"}},
		{"ipv6 spellings", []string{"[fd00::1]"}, []string{"fd00:0::1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseTopology(tt.cps, tt.workers, Defaults{})
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Reason, "duplicate host")
		})
	}
}

func TestTopology_ValidateDuplicateAcrossManyPairs(t *testing.T) {
	t.Parallel()

	users := []string{"", "root@", "admin@", "ubuntu@"}
	for i, u1 := range users {
		for j, u2 := range users {
			cp := fmt.Sprintf("%s10.1.%d.%d", u1, i, j)
			w := fmt.Sprintf("%s10.1.%d.%d", u2, i, j)
			_, err := ParseTopology([]string{cp}, []string{w}, Defaults{})
			assert.Error(t, err, "cp=%s worker=%s", cp, w)
		}
	}
}

func TestTopology_ValidateRequiresControlPlane(t *testing.T) {
	t.Parallel()

	_, err := ParseTopology(nil, []string{"w1"}, Defaults{})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "control-planes", verr.Field)
}

func TestTopology_Ordered(t *testing.T) {
	t.Parallel()

	topo, err := ParseTopology([]string{"cp1", "cp2"}, []string{"w1", "w2"}, Defaults{})
	require.NoError(t, err)

	members := topo.Ordered()
	require.Len(t, members, 4)

	want := []struct {
		host string
		role Role
	}{
		{"cp1", RoleFirstControlPlane},
		{"cp2", RoleAdditionalControlPlane},
		{"w1", RoleWorker},
		{"w2", RoleWorker},
	}
	for i, w := range want {
		assert.Equal(t, w.host, members[i].Address.Host())
		assert.Equal(t, w.role, members[i].Role)
		assert.Equal(t, w.role, topo.Role(i))
	}

	assert.True(t, RoleFirstControlPlane.IsControlPlane())
	assert.True(t, RoleAdditionalControlPlane.IsControlPlane())
	assert.False(t, RoleWorker.IsControlPlane())
}

func TestTopology_SingleControlPlaneIsNotHA(t *testing.T) {
	t.Parallel()

	topo, err := ParseTopology([]string{"cp1"}, []string{"w1"}, Defaults{})
	require.NoError(t, err)
	assert.False(t, topo.IsHA())
}
