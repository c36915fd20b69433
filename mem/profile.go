package mem

import (
	"time"

	"github.com/google/pprof/profile"
)

// BuildPageProfile renders the page-allocator counters returned by
// Pgcount into a pprof Profile: one "free_pages"/"pmap_pages" sample
// per CPU's private free list, plus a sample for the global list. A
// profile viewer (go tool pprof) then gives the same per-CPU skew a
// live kernel would show in /proc/meminfo, without a bespoke format.
func BuildPageProfile(globalFree, globalPmaps int, perCPUFree, perCPUPmaps []int) *profile.Profile {
	freeType := &profile.ValueType{Type: "free_pages", Unit: "count"}
	pmapType := &profile.ValueType{Type: "pmap_pages", Unit: "count"}

	fn := func(name string, id uint64) *profile.Function {
		return &profile.Function{ID: id, Name: name}
	}
	loc := func(f *profile.Function, id uint64) *profile.Location {
		return &profile.Location{ID: id, Line: []profile.Line{{Function: f}}}
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{freeType, pmapType},
		TimeNanos:  time.Now().UnixNano(),
	}

	globalFn := fn("global", 1)
	globalLoc := loc(globalFn, 1)
	p.Function = append(p.Function, globalFn)
	p.Location = append(p.Location, globalLoc)
	p.Sample = append(p.Sample, &profile.Sample{
		Location: []*profile.Location{globalLoc},
		Value:    []int64{int64(globalFree), int64(globalPmaps)},
	})

	for i := range perCPUFree {
		id := uint64(i + 2)
		cfn := fn(cpuLabel(i), id)
		cloc := loc(cfn, id)
		p.Function = append(p.Function, cfn)
		p.Location = append(p.Location, cloc)

		pmaps := 0
		if i < len(perCPUPmaps) {
			pmaps = perCPUPmaps[i]
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{cloc},
			Value:    []int64{int64(perCPUFree[i]), int64(pmaps)},
		})
	}

	return p
}

func cpuLabel(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return "cpu" + string(digits[i])
	}
	return "cpu" + string(digits[i/10]) + string(digits[i%10])
}
