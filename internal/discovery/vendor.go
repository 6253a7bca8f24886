package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"golang.org/x/time/rate"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/platform"
	"github.com/user/lanscope/internal/storage"
	"github.com/user/lanscope/internal/util"
)

// vendorMemoryTTL keeps answers and misses for the life of a long-running process.
const vendorMemoryTTL = 24 * time.Hour

type vendorEntry struct {
	name  string
	known bool
}

// VendorLookup resolves MAC prefixes to manufacturer names through an
// OUI lookup service.
type VendorLookup struct {
	baseURL    string
	maxLookups int
	client     *http.Client
	limiter    *rate.Limiter
	store      *storage.VendorStore
	memory     *ttlworker.Cache[string, vendorEntry]
}

// NewVendorLookup creates a vendor lookup. At most maxLookups prefixes are
// sent to the service per Resolve call, one every delay. store may be nil.
func NewVendorLookup(baseURL string, maxLookups int, delay time.Duration, store *storage.VendorStore) *VendorLookup {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &VendorLookup{
		baseURL:    baseURL,
		maxLookups: maxLookups,
		client:     &http.Client{Timeout: 5 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(delay), 1),
		store:      store,
		memory:     ttlworker.NewCache[string, vendorEntry](vendorMemoryTTL),
	}
}

// Prefix returns the OUI part of a normalized MAC.
func Prefix(mac string) string {
	if len(mac) < 8 {
		return ""
	}
	return mac[:8]
}

// Resolve fills Vendor on every device it can. Unresolved devices keep
// an empty vendor.
func (v *VendorLookup) Resolve(ctx context.Context, devices []model.Device) {
	resolved := make(map[string]string)
	sent := 0

	for _, d := range devices {
		prefix := Prefix(d.MAC)
		if prefix == "" || platform.IsLocallyAdministered(d.MAC) {
			continue
		}
		if _, done := resolved[prefix]; done {
			continue
		}

		if name, ok := v.cached(prefix); ok {
			resolved[prefix] = name
			continue
		}
		if sent >= v.maxLookups {
			continue
		}
		if err := v.limiter.Wait(ctx); err != nil {
			break
		}
		sent++

		name, err := v.fetch(ctx, prefix)
		if err != nil {
			util.Debug("Vendor lookup for %s failed: %v", prefix, err)
			resolved[prefix] = ""
			continue
		}
		resolved[prefix] = name
	}

	for i := range devices {
		devices[i].Vendor = resolved[Prefix(devices[i].MAC)]
	}
}

func (v *VendorLookup) cached(prefix string) (string, bool) {
	if e := v.memory.Get(prefix); e.known {
		return e.name, true
	}
	if v.store == nil {
		return "", false
	}
	name, ok, err := v.store.Get(prefix)
	if err != nil {
		util.Warn("Vendor cache read failed: %v", err)
		return "", false
	}
	if ok {
		v.memory.Set(prefix, vendorEntry{name: name, known: true})
	}
	return name, ok
}

// fetch asks the service about prefix. A 404 is remembered as a miss
// in memory only; other failures are not remembered.
func (v *VendorLookup) fetch(ctx context.Context, prefix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+prefix, nil)
	if err != nil {
		return "", err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		v.memory.Set(prefix, vendorEntry{known: true})
		return "", nil
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("vendor service returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(body))
	if name == "" {
		return "", nil
	}

	v.memory.Set(prefix, vendorEntry{name: name, known: true})
	if v.store != nil {
		if err := v.store.Save(prefix, name); err != nil {
			util.Warn("Vendor cache write failed: %v", err)
		}
	}
	return name, nil
}
