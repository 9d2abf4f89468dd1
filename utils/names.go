package utils

import (
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto/v2"
)

// Sender display names are looked up per message, so they sit behind a
// small in-process cache instead of hitting the entity maps every time.
var names *ristretto.Cache[string, string]

func init() {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1e5,
		MaxCost:     1e6,
		BufferItems: 64,
	})
	if err != nil {
		log.Fatalf("Failed to create name cache: %v", err)
	}
	names = c
}

func CacheName(id int64, name string) {
	if name == "" {
		return
	}
	names.SetWithTTL(strconv.FormatInt(id, 10), name, 1, 24*time.Hour)
}

func CachedName(id int64) (string, bool) {
	return names.Get(strconv.FormatInt(id, 10))
}
