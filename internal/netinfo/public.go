package netinfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/oschwald/geoip2-golang"
	"github.com/pion/stun/v3"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/util"
)

// geoResponse is the subset of the ipinfo.io document that is used.
// Every field is optional.
type geoResponse struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
}

// PublicLocator resolves the public IP and its geolocation. Sources are
// tried in order: the geolocation endpoint, plain-text IP providers,
// STUN binding requests. A local GeoIP database fills fields the HTTP
// lookup left empty.
type PublicLocator struct {
	geoURL      string
	providers   []string
	stunServers []string
	timeout     time.Duration
	client      *http.Client

	geoMu sync.Mutex
	geoDB *geoip2.Reader
}

// NewPublicLocator creates a locator from cfg. A configured GeoIP
// database that fails to open is logged and ignored.
func NewPublicLocator(cfg util.PublicConfig) *PublicLocator {
	p := &PublicLocator{
		geoURL:      cfg.GeoURL,
		providers:   cfg.IPProviders,
		stunServers: cfg.STUNServers,
		timeout:     cfg.Timeout,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.GeoIPDB != "" {
		db, err := geoip2.Open(cfg.GeoIPDB)
		if err != nil {
			util.Warn("GeoIP database %s unavailable: %v", cfg.GeoIPDB, err)
		} else {
			p.geoDB = db
		}
	}
	return p
}

// Lookup never fails; unresolved fields stay empty and IP becomes
// model.UnknownIP.
func (p *PublicLocator) Lookup(ctx context.Context) model.PublicInfo {
	info, err := p.fetchGeo(ctx)
	if err != nil {
		util.Debug("Geolocation lookup failed: %v", err)
	}

	if info.IP == "" {
		if ip, err := p.consensusIP(ctx); err == nil {
			info.IP = ip
		} else {
			util.Debug("IP providers failed: %v", err)
		}
	}
	if info.IP == "" {
		if ip, err := p.stunIP(ctx); err == nil {
			info.IP = ip
		} else {
			util.Debug("STUN lookup failed: %v", err)
		}
	}

	if info.IP == "" {
		info.IP = model.UnknownIP
		return info
	}

	p.fillFromDB(&info)
	return info
}

func (p *PublicLocator) fetchGeo(ctx context.Context) (model.PublicInfo, error) {
	if p.geoURL == "" {
		return model.PublicInfo{}, errors.New("no geolocation endpoint")
	}

	body, err := p.get(ctx, p.geoURL, 64*1024)
	if err != nil {
		return model.PublicInfo{}, err
	}

	var g geoResponse
	if err := sonic.Unmarshal(body, &g); err != nil {
		return model.PublicInfo{}, fmt.Errorf("failed to decode geolocation: %w", err)
	}

	info := model.PublicInfo{
		City:     g.City,
		Region:   g.Region,
		Country:  g.Country,
		Org:      g.Org,
		Timezone: g.Timezone,
	}
	if net.ParseIP(strings.TrimSpace(g.IP)) != nil {
		info.IP = strings.TrimSpace(g.IP)
	}
	return info, nil
}

// consensusIP asks every provider concurrently and returns the most
// common answer.
func (p *PublicLocator) consensusIP(ctx context.Context) (string, error) {
	if len(p.providers) == 0 {
		return "", errors.New("no IP providers configured")
	}

	type answer struct {
		ip  string
		err error
	}
	answers := make(chan answer, len(p.providers))
	for _, url := range p.providers {
		url := url
		go func() {
			body, err := p.get(ctx, url, 64)
			if err != nil {
				answers <- answer{err: fmt.Errorf("%s: %w", url, err)}
				return
			}
			ip := strings.TrimSpace(string(body))
			if net.ParseIP(ip) == nil {
				answers <- answer{err: fmt.Errorf("%s: invalid IP %q", url, ip)}
				return
			}
			answers <- answer{ip: ip}
		}()
	}

	var ips []string
	var errs []error
	for range p.providers {
		a := <-answers
		if a.err != nil {
			errs = append(errs, a.err)
			continue
		}
		ips = append(ips, a.ip)
	}

	if len(ips) == 0 {
		return "", fmt.Errorf("all providers failed: %w", errors.Join(errs...))
	}
	return consensus(ips), nil
}

// consensus returns the most frequent value, preferring the earliest on ties.
func consensus(values []string) string {
	counts := make(map[string]int)
	var best string
	for _, v := range values {
		counts[v]++
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}

func (p *PublicLocator) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "lanscope/1.0")
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// stunIP returns the mapped address reported by the first STUN server
// that answers.
func (p *PublicLocator) stunIP(ctx context.Context) (string, error) {
	if len(p.stunServers) == 0 {
		return "", errors.New("no STUN servers configured")
	}

	var lastErr error
	for _, server := range p.stunServers {
		ip, err := stunBinding(ctx, server, p.timeout)
		if err != nil {
			lastErr = err
			continue
		}
		return ip, nil
	}
	return "", lastErr
}

func stunBinding(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", errors.New("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	report := func(err error) {
		select {
		case fail <- err:
		default:
		}
	}
	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				report(res.Error)
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				report(err)
				return
			}
			result <- addr
		})
		if err != nil {
			report(err)
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.IP.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fillFromDB completes empty location fields from the GeoIP database.
func (p *PublicLocator) fillFromDB(info *model.PublicInfo) {
	p.geoMu.Lock()
	defer p.geoMu.Unlock()
	if p.geoDB == nil {
		return
	}

	ip := net.ParseIP(info.IP)
	if ip == nil {
		return
	}
	rec, err := p.geoDB.City(ip)
	if err != nil {
		util.Debug("GeoIP lookup for %s failed: %v", info.IP, err)
		return
	}

	if info.City == "" {
		info.City = rec.City.Names["en"]
	}
	if info.Region == "" && len(rec.Subdivisions) > 0 {
		info.Region = rec.Subdivisions[0].Names["en"]
	}
	if info.Country == "" {
		info.Country = rec.Country.IsoCode
	}
	if info.Timezone == "" {
		info.Timezone = rec.Location.TimeZone
	}
}

// Close releases the GeoIP database.
func (p *PublicLocator) Close() error {
	p.geoMu.Lock()
	defer p.geoMu.Unlock()
	if p.geoDB == nil {
		return nil
	}
	err := p.geoDB.Close()
	p.geoDB = nil
	return err
}
