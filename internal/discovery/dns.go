package discovery

import (
	"context"
	"strings"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"golang.org/x/sync/errgroup"

	"github.com/user/lanscope/internal/model"
)

// HostnameTTL is how long reverse DNS answers, including empty ones, are reused.
const HostnameTTL = 10 * time.Minute

// Resolver performs reverse lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type hostEntry struct {
	name  string
	known bool
}

// ReverseDNS resolves device hostnames in parallel with a per-host timeout.
type ReverseDNS struct {
	resolver    Resolver
	timeout     time.Duration
	concurrency int
	cache       *ttlworker.Cache[string, hostEntry]
}

// NewReverseDNS creates a reverse resolver.
func NewReverseDNS(r Resolver, timeout time.Duration, concurrency int) *ReverseDNS {
	return &ReverseDNS{
		resolver:    r,
		timeout:     timeout,
		concurrency: concurrency,
		cache:       ttlworker.NewCache[string, hostEntry](HostnameTTL),
	}
}

// Resolve fills Hostname on every device. A failed lookup leaves it empty.
func (d *ReverseDNS) Resolve(ctx context.Context, devices []model.Device) {
	var g errgroup.Group
	g.SetLimit(limit(d.concurrency))

	for i := range devices {
		i := i
		g.Go(func() error {
			devices[i].Hostname = d.lookup(ctx, devices[i].IP)
			return nil
		})
	}
	g.Wait()
}

func (d *ReverseDNS) lookup(ctx context.Context, ip string) string {
	if e := d.cache.Get(ip); e.known {
		return e.name
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	names, err := d.resolver.LookupAddr(lookupCtx, ip)
	if err != nil || len(names) == 0 {
		if ctx.Err() == nil {
			d.cache.Set(ip, hostEntry{known: true})
		}
		return ""
	}

	name := strings.TrimSuffix(names[0], ".")
	d.cache.Set(ip, hostEntry{name: name, known: true})
	return name
}
