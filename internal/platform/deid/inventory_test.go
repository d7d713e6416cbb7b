package deid

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInventory_AddDeduplicatesExactly(t *testing.T) {
	inv := NewInventory()
	assert.True(t, inv.Add(BucketNames, "Jane"))
	assert.False(t, inv.Add(BucketNames, "Jane"))
	assert.True(t, inv.Add(BucketNames, "jane"))
	assert.False(t, inv.Add(BucketNames, ""))
	assert.False(t, inv.Add(BucketNone, "45 years"))

	assert.Equal(t, []string{"Jane", "jane"}, inv.Values(BucketNames))
	assert.True(t, inv.Contains(BucketNames, "jane"))
	assert.False(t, inv.Contains(BucketEmails, "jane"))
}

func TestInventory_Merge(t *testing.T) {
	a := NewInventory()
	a.Add(BucketPhones, "555-123-4567")
	a.Add(BucketDates, "01/02/1980")

	b := NewInventory()
	b.Add(BucketPhones, "555-123-4567")
	b.Add(BucketPhones, "555-765-4321")
	b.Add(BucketSSNs, "123-45-6789")

	a.Merge(b)
	a.Merge(nil)
	assert.Equal(t, []string{"555-123-4567", "555-765-4321"}, a.Values(BucketPhones))
	assert.Equal(t, []string{"123-45-6789"}, a.Values(BucketSSNs))
	assert.Equal(t, 1, a.Len(BucketDates))
}

func TestInventory_ZeroValueAndNil(t *testing.T) {
	var inv Inventory
	assert.True(t, inv.Empty())
	assert.Nil(t, inv.Values(BucketNames))
	inv.Add(BucketEmails, "a@b.com")
	assert.False(t, inv.Empty())

	var nilInv *Inventory
	assert.True(t, nilInv.Empty())
	assert.Equal(t, 0, nilInv.Len(BucketNames))
}

func TestInventory_JSON(t *testing.T) {
	inv := NewInventory()
	inv.Add(BucketSSNs, "123-45-6789")

	data, err := json.Marshal(inv)
	require.NoError(t, err)
	assert.JSONEq(t, `{"names":[],"phones":[],"emails":[],"ssns":["123-45-6789"],"mrns":[],"dates":[],"addresses":[]}`, string(data))

	var back Inventory
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, inv.Map(), back.Map())
}

func TestInventory_YAMLAndCounts(t *testing.T) {
	inv := NewInventory()
	inv.Add(BucketNames, "Jane Roe")
	inv.Add(BucketNames, "Alan Poe")

	inv.Add(BucketDates, "01/02/1980")

	out, err := yaml.Marshal(inv)
	require.NoError(t, err)
	assert.Contains(t, string(out), "- Jane Roe")

	// Buckets keep report order rather than yaml's sorted map keys.
	var keys []string
	for _, line := range strings.Split(string(out), "\n") {
		if line != "" && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "-") {
			keys = append(keys, strings.SplitN(line, ":", 2)[0])
		}
	}
	want := make([]string, len(Buckets))
	for i, b := range Buckets {
		want[i] = string(b)
	}
	assert.Equal(t, want, keys)

	var back map[string][]string
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, []string{"Jane Roe", "Alan Poe"}, back["names"])
	assert.Equal(t, []string{"01/02/1980"}, back["dates"])
	assert.Empty(t, back["addresses"])

	counts := inv.Counts()
	assert.Equal(t, 2, counts["names"])
	assert.Equal(t, 0, counts["addresses"])
	assert.Len(t, counts, len(Buckets))
}
