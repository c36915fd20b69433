package mem

import "testing"

func TestBuildPageProfileCounts(t *testing.T) {
	p := BuildPageProfile(100, 2, []int{10, 20}, []int{0, 1})
	if len(p.Sample) != 3 {
		t.Fatalf("expected 3 samples (global + 2 cpus), got %d", len(p.Sample))
	}
	global := p.Sample[0]
	if global.Value[0] != 100 || global.Value[1] != 2 {
		t.Fatalf("global sample = %v, want [100 2]", global.Value)
	}
	cpu0 := p.Sample[1]
	if cpu0.Value[0] != 10 || cpu0.Value[1] != 0 {
		t.Fatalf("cpu0 sample = %v, want [10 0]", cpu0.Value)
	}
	cpu1 := p.Sample[2]
	if cpu1.Value[0] != 20 || cpu1.Value[1] != 1 {
		t.Fatalf("cpu1 sample = %v, want [20 1]", cpu1.Value)
	}
}

func TestBuildPageProfileNoCPUs(t *testing.T) {
	p := BuildPageProfile(5, 0, nil, nil)
	if len(p.Sample) != 1 {
		t.Fatalf("expected 1 sample with no per-cpu data, got %d", len(p.Sample))
	}
}

func TestCpuLabelTwoDigits(t *testing.T) {
	if got := cpuLabel(3); got != "cpu3" {
		t.Errorf("cpuLabel(3) = %q, want cpu3", got)
	}
	if got := cpuLabel(12); got != "cpu12" {
		t.Errorf("cpuLabel(12) = %q, want cpu12", got)
	}
}

func TestBuildPageProfileManyCPUsFunctionNames(t *testing.T) {
	free := make([]int, 12)
	pmaps := make([]int, 12)
	p := BuildPageProfile(0, 0, free, pmaps)
	last := p.Function[len(p.Function)-1]
	if last.Name != "cpu11" {
		t.Errorf("last function name = %q, want cpu11", last.Name)
	}
}
