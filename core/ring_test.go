package core

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

const ringToml = `
Aggregator = "duchy-a"

[[Duchies]]
Name = "duchy-a"
Address = "duchy-a.example.org:8080"
TLS = true

[[Duchies]]
Name = "duchy-b"
Address = "duchy-b.example.org:8080"
TLS = true

[[Duchies]]
Name = "duchy-c"
Address = "duchy-c.example.org:8080"
`

func TestLoadRing(t *testing.T) {
	file := path.Join(t.TempDir(), "ring.toml")
	require.NoError(t, os.WriteFile(file, []byte(ringToml), 0600))

	r, err := LoadRing(file)
	require.NoError(t, err)
	require.Equal(t, "duchy-a", r.Aggregator)
	require.Len(t, r.Duchies, 3)

	a, err := r.Find("duchy-a")
	require.NoError(t, err)
	require.True(t, a.Peer().IsTLS())
	require.Equal(t, "duchy-a.example.org:8080", a.Peer().Address())

	c, err := r.Find("duchy-c")
	require.NoError(t, err)
	require.False(t, c.Peer().IsTLS())

	_, err = r.Find("duchy-z")
	require.Error(t, err)
}

func TestRingSuccessorWrapsAround(t *testing.T) {
	file := path.Join(t.TempDir(), "ring.toml")
	require.NoError(t, os.WriteFile(file, []byte(ringToml), 0600))
	r, err := LoadRing(file)
	require.NoError(t, err)

	next, err := r.Successor("duchy-a")
	require.NoError(t, err)
	require.Equal(t, "duchy-b", next.Name)

	next, err = r.Successor("duchy-c")
	require.NoError(t, err)
	require.Equal(t, "duchy-a", next.Name)
}

func TestRingOthers(t *testing.T) {
	r := &Ring{
		Aggregator: "duchy-a",
		Duchies: []*DuchyInfo{
			{Name: "duchy-a", Address: "a:1"},
			{Name: "duchy-b", Address: "b:1"},
			{Name: "duchy-c", Address: "c:1"},
		},
	}
	require.NoError(t, r.Validate())
	require.Equal(t, []string{"duchy-b", "duchy-c"}, r.Others("duchy-a"))
	require.Equal(t, []string{"duchy-a", "duchy-c"}, r.Others("duchy-b"))
}

func TestRingValidate(t *testing.T) {
	// too small
	r := &Ring{Aggregator: "a", Duchies: []*DuchyInfo{{Name: "a", Address: "a:1"}}}
	require.Error(t, r.Validate())

	// aggregator not a member
	r = &Ring{Aggregator: "z", Duchies: []*DuchyInfo{
		{Name: "a", Address: "a:1"}, {Name: "b", Address: "b:1"},
	}}
	require.Error(t, r.Validate())

	// duplicate names
	r = &Ring{Aggregator: "a", Duchies: []*DuchyInfo{
		{Name: "a", Address: "a:1"}, {Name: "a", Address: "a:2"},
	}}
	require.Error(t, r.Validate())
}
