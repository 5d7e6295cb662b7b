package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectSockets(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	success, err := repo.SuccessStatus(ctx)
	require.NoError(t, err)

	host := &Host{Name: "10.1.1.1"}
	live := NewSocket(host, 25565)
	live.Status = success
	dead := NewSocket(host, 25566)
	dead.Status = &Status{Name: "ConnectionRefused connection refused"}
	unscanned := NewSocket(host, 25567)

	upsertSockets(t, repo, []*Socket{live, dead, unscanned})

	tests := []struct {
		selection Selection
		want      []int
	}{
		{SelectPending, []int{25567}},
		{SelectFailed, []int{25566}},
		{SelectAll, []int{25565, 25566, 25567}},
	}

	for _, tt := range tests {
		t.Run(string(tt.selection), func(t *testing.T) {
			sockets, err := repo.SelectSockets(ctx, tt.selection)
			require.NoError(t, err)

			var ports []int
			for _, s := range sockets {
				ports = append(ports, s.Port)
				require.NotNil(t, s.Host)
				assert.Equal(t, "10.1.1.1", s.Host.Name)
			}
			assert.Equal(t, tt.want, ports)
		})
	}

	all, err := repo.SelectSockets(ctx, SelectAll)
	require.NoError(t, err)
	assert.Same(t, all[0].Host, all[1].Host, "sockets on one host share the Host value")

	_, err = repo.SelectSockets(ctx, Selection("bogus"))
	assert.Error(t, err)
}

func TestStatsAndStatusCounts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	timeout := &Status{Name: "Timeout i/o timeout"}
	a := NewSocket(&Host{Name: "a.com"}, 1)
	a.Status = timeout
	b := NewSocket(&Host{Name: "b.com"}, 2)
	b.Status = timeout
	c := NewSocket(&Host{Name: "b.com"}, 3)
	upsertSockets(t, repo, []*Socket{a, b, c})

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Hosts: 2, Statuses: 2, Sockets: 3, PendingSockets: 1, Servers: 0}, stats)

	counts, err := repo.StatusCounts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, StatusCount{Name: "Timeout i/o timeout", Sockets: 2}, counts[0])

	total, err := repo.CountServers(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	servers, err := repo.ListServers(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, servers)

	assert.NoError(t, repo.Ping(ctx))
}

func TestParseSelection(t *testing.T) {
	sel, err := ParseSelection("")
	require.NoError(t, err)
	assert.Equal(t, SelectPending, sel)

	sel, err = ParseSelection(" Failed ")
	require.NoError(t, err)
	assert.Equal(t, SelectFailed, sel)

	_, err = ParseSelection("everything")
	assert.Error(t, err)
}

func TestCountsAdd(t *testing.T) {
	c := Counts{Hosts: 1, Servers: 2}
	c.Add(Counts{Hosts: 2, Sockets: 3, SocketsUpdated: 4})
	assert.Equal(t, Counts{Hosts: 3, Sockets: 3, Servers: 2, SocketsUpdated: 4}, c)
}

func TestSocketAddress(t *testing.T) {
	assert.Equal(t, "mc.example.net:25565", NewSocket(&Host{Name: "mc.example.net"}, 25565).Address())
	assert.Equal(t, "[2001:db8::1]:25565", NewSocket(&Host{Name: "2001:db8::1"}, 25565).Address())
}
