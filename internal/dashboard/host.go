package dashboard

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

type hostStats struct {
	MemUsedPercent float64
	MemTotal       uint64
	Load1          float64
	HasLoad        bool
}

func (h hostStats) String() string {
	s := fmt.Sprintf("mem %.0f%% of %s", h.MemUsedPercent, humanize.IBytes(h.MemTotal))
	if h.HasLoad {
		s += fmt.Sprintf(" · load %.2f", h.Load1)
	}
	return s
}

func readHost(ctx context.Context) (hostStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return hostStats{}, err
	}
	h := hostStats{MemUsedPercent: vm.UsedPercent, MemTotal: vm.Total}
	// load averages are not available on every platform
	if avg, err := load.AvgWithContext(ctx); err == nil {
		h.Load1 = avg.Load1
		h.HasLoad = true
	}
	return h, nil
}
