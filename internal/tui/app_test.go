package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/speedtest"
)

type fakeBackend struct {
	mu      sync.Mutex
	info    *model.NetworkInfo
	records []model.TrafficRecord
	status  model.TrafficStatus
	events  []model.SpeedEvent
	result  *model.SpeedResult
	err     error
	runs    int
}

func (f *fakeBackend) NetworkInfo(ctx context.Context) (*model.NetworkInfo, error) {
	return f.info, nil
}

func (f *fakeBackend) RunSpeedTest(ctx context.Context, obs speedtest.Observer) (*model.SpeedResult, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	for _, ev := range f.events {
		obs(ev)
	}
	return f.result, f.err
}

func (f *fakeBackend) TrafficRecords() []model.TrafficRecord { return f.records }

func (f *fakeBackend) TrafficStatus() model.TrafficStatus { return f.status }

func (f *fakeBackend) StartTrafficMonitoring(ctx context.Context) {}

func (f *fakeBackend) StopTrafficMonitoring() {}

func newTestModel(b *fakeBackend) appModel {
	return newAppModel(context.Background(), b, time.Second)
}

// drain feeds every message of a finished speed test back into the model.
func drain(t *testing.T, m appModel, cmd tea.Cmd) appModel {
	t.Helper()
	for i := 0; cmd != nil && i < 20; i++ {
		msg := cmd()
		if msg == nil {
			break
		}
		next, c := m.Update(msg)
		m = next.(appModel)
		cmd = c
	}
	return m
}

func TestTrafficRows(t *testing.T) {
	t.Parallel()

	rows := trafficRows([]model.TrafficRecord{
		{IP: "1.1.1.1", DownloadSpeedBps: 2048, TotalDownloadBytes: 1024, DataQuality: model.QualityEstimated, Process: "curl"},
		{IP: "8.8.8.8", DataQuality: model.QualityConnectionOnly},
	})
	if len(rows) != 2 {
		t.Fatalf("rows=%v", rows)
	}
	if rows[0][0] != "1.1.1.1" || rows[0][1] != "2.0 KiB/s" || rows[0][3] != "1.0 KiB" || rows[0][5] != "est" || rows[0][6] != "curl" {
		t.Fatalf("row0=%v", rows[0])
	}
	if rows[1][5] != "conn" || rows[1][6] != "-" {
		t.Fatalf("row1=%v", rows[1])
	}
}

func TestQualityTag(t *testing.T) {
	t.Parallel()

	tests := map[model.DataQuality]string{
		model.QualityEstimated:      "est",
		model.QualityConnectionOnly: "conn",
		model.QualityUnavailable:    "n/a",
		"":                          "?",
	}
	for q, want := range tests {
		if got := QualityTag(q); got != want {
			t.Fatalf("QualityTag(%q)=%q want %q", q, got, want)
		}
	}
}

func TestUpdate_InfoFillsDevices(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		info: &model.NetworkInfo{
			Public:  model.PublicInfo{IP: "203.0.113.9"},
			Devices: []model.Device{{IP: "192.168.1.1", MAC: "00:1b:cc:00:00:01", Type: model.DeviceDynamic}},
		},
		records: []model.TrafficRecord{{IP: "1.1.1.1", DataQuality: model.QualityConnectionOnly}},
		status:  model.TrafficStatus{Running: true, Quality: model.QualityConnectionOnly},
	}
	m := newTestModel(b)

	next, _ := m.Update(infoMsg{info: b.info})
	m = next.(appModel)

	if m.loading || len(m.devices.Rows()) != 1 || len(m.traffic.Rows()) != 1 {
		t.Fatalf("loading=%v devices=%v traffic=%v", m.loading, m.devices.Rows(), m.traffic.Rows())
	}
	view := m.View()
	if !strings.Contains(view, "203.0.113.9") || !strings.Contains(view, "192.168.1.1") {
		t.Fatalf("view missing data:\n%s", view)
	}
}

func TestUpdate_SpeedTestKey(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		events: []model.SpeedEvent{
			{Phase: model.PhasePing},
			{Phase: model.PhaseDownload},
			{Phase: model.PhaseDownload, Mbps: 50, Sample: true},
			{Phase: model.PhaseUpload},
			{Phase: model.PhaseDone},
		},
		result: &model.SpeedResult{RunID: "r1", PingMs: 12.5, DownloadMbps: 50, UploadMbps: 10},
	}
	m := newTestModel(b)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	m = next.(appModel)
	if !m.speed.running || cmd == nil {
		t.Fatalf("speed test not started: %+v", m.speed)
	}

	// A second press while running is ignored.
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	m = next.(appModel)

	m = drain(t, m, cmd)
	if m.speed.running || m.speed.phase != model.PhaseDone || m.speed.result == nil || m.speed.result.RunID != "r1" {
		t.Fatalf("speed=%+v", m.speed)
	}
	if b.runs != 1 {
		t.Fatalf("runs=%d", b.runs)
	}
	if !strings.Contains(m.renderSpeed(), "12.5 ms") {
		t.Fatalf("speed panel=%s", m.renderSpeed())
	}
}

func TestUpdate_SpeedTestError(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{err: speedtest.ErrPingFailed}
	m := newTestModel(b)

	next, cmd := m.startSpeedTest()
	m = drain(t, next.(appModel), cmd)
	if !errors.Is(m.speed.err, speedtest.ErrPingFailed) || m.speed.phase != model.PhaseError {
		t.Fatalf("speed=%+v", m.speed)
	}
}

func TestUpdate_Quit(t *testing.T) {
	t.Parallel()

	m := newTestModel(&fakeBackend{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("no command for q")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("q did not quit")
	}
}

func TestApplySpeedEvent_PeakResetsPerPhase(t *testing.T) {
	t.Parallel()

	m := newTestModel(&fakeBackend{})
	m.applySpeedEvent(model.SpeedEvent{Phase: model.PhaseDownload})
	m.applySpeedEvent(model.SpeedEvent{Phase: model.PhaseDownload, Mbps: 80, Sample: true})
	m.applySpeedEvent(model.SpeedEvent{Phase: model.PhaseDownload, Mbps: 40, Sample: true})
	if m.speed.mbps != 40 || m.speed.peak != 80 {
		t.Fatalf("speed=%+v", m.speed)
	}
	m.applySpeedEvent(model.SpeedEvent{Phase: model.PhaseUpload})
	if m.speed.mbps != 0 || m.speed.peak != 0 || m.speed.phase != model.PhaseUpload {
		t.Fatalf("speed=%+v", m.speed)
	}
}
