package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/cptspacemanspiff/activity-defender/internal/metrics"
)

// ProcessInfo is one running process as reported by a ProcessLister.
type ProcessInfo struct {
	PID  int32
	UID  int32
	Name string
}

// ProcessLister enumerates the processes running right now.
type ProcessLister interface {
	List(ctx context.Context) ([]ProcessInfo, error)
}

// SystemLister lists processes through gopsutil.
type SystemLister struct{}

// List returns every process whose name and uid could be read. Processes that
// exit while being inspected are skipped.
func (SystemLister) List(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		uids, err := p.UidsWithContext(ctx)
		if err != nil || len(uids) == 0 {
			continue
		}
		infos = append(infos, ProcessInfo{PID: p.Pid, UID: uids[0], Name: name})
	}
	return infos, nil
}

// ProcessCollector snapshots the process list into the sink.
type ProcessCollector struct {
	lister ProcessLister
	sink   Sink
	log    *slog.Logger
	now    func() time.Time
}

// NewProcessCollector creates a collector. A nil lister uses SystemLister.
func NewProcessCollector(lister ProcessLister, sink Sink, logger *slog.Logger) *ProcessCollector {
	if lister == nil {
		lister = SystemLister{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessCollector{lister: lister, sink: sink, log: logger, now: time.Now}
}

// Collect returns one record per running process, all sharing the same timestamp.
func (pc *ProcessCollector) Collect(ctx context.Context) ([]ProcessRecord, error) {
	infos, err := pc.lister.List(ctx)
	if err != nil {
		return nil, err
	}
	ts := pc.now().Unix()
	records := make([]ProcessRecord, len(infos))
	for i, p := range infos {
		records[i] = ProcessRecord{
			Timestamp: ts,
			PID:       strconv.Itoa(int(p.PID)),
			UID:       strconv.Itoa(int(p.UID)),
			Name:      p.Name,
		}
	}
	return records, nil
}

// Run collects a snapshot and writes each record to the sink. Individual write
// failures are counted and dropped; only a failure to list processes is returned.
func (pc *ProcessCollector) Run(ctx context.Context) error {
	records, err := pc.Collect(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, r := range records {
		err := pc.sink.InsertProcess(r)
		metrics.IncInsert("process", err)
		if err != nil {
			failed++
			pc.log.Debug("store process record", "pid", r.PID, "err", err)
		}
	}
	pc.log.Info("snapshot", "processes", len(records), "failed", failed)
	return nil
}
