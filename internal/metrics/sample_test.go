package metrics

import (
	"math"
	"testing"
)

func TestSampleAppendKeepsOrder(t *testing.T) {
	t.Parallel()

	s := NewSample()
	s.AppendInt("gpu.0.temp", 61)
	s.AppendFloat("gpu.0.powerWatts", 41.5)
	s.AppendString("_gpu.0.name", "Test GPU")

	fields := s.Fields()
	if len(fields) != 3 {
		t.Fatalf("len = %d, want 3", len(fields))
	}
	wantOrder := []string{"gpu.0.temp", "gpu.0.powerWatts", "_gpu.0.name"}
	for i, name := range wantOrder {
		if fields[i].Name != name {
			t.Errorf("fields[%d].Name = %q, want %q", i, fields[i].Name, name)
		}
	}
}

func TestSampleAppendOverwritesInPlace(t *testing.T) {
	t.Parallel()

	s := NewSample()
	s.AppendInt("a", 1)
	s.AppendInt("b", 2)
	s.AppendInt("a", 3)

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if v, _ := s.Get("a"); v.Int() != 3 {
		t.Errorf("a = %d, want 3", v.Int())
	}
	if s.Fields()[0].Name != "a" {
		t.Errorf("first field = %q, want a", s.Fields()[0].Name)
	}
}

func TestSampleAppendFloatDropsNonFinite(t *testing.T) {
	t.Parallel()

	s := NewSample()
	s.AppendFloat("nan", math.NaN())
	s.AppendFloat("inf", math.Inf(1))
	s.AppendFloat("ok", 1.5)

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if _, ok := s.Get("ok"); !ok {
		t.Error("finite value missing")
	}
}

func TestSampleMarshalJSONOrdered(t *testing.T) {
	t.Parallel()

	s := NewSample()
	s.AppendFloat("gpu.0.gpu", 87.5)
	s.AppendInt("_gpu.count", 2)
	s.AppendString("_gpu.0.name", "NVIDIA A100")

	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	want := `{"gpu.0.gpu":87.5,"_gpu.count":2,"_gpu.0.name":"NVIDIA A100"}`
	if string(data) != want {
		t.Errorf("MarshalJSON = %s, want %s", data, want)
	}
}

func TestSampleMerge(t *testing.T) {
	t.Parallel()

	a := NewSample()
	a.AppendInt("x", 1)

	b := NewSample()
	b.AppendInt("y", 2)
	b.AppendInt("x", 9)

	a.Merge(b)
	if a.Len() != 2 {
		t.Fatalf("Len = %d, want 2", a.Len())
	}
	if v, _ := a.Get("x"); v.Int() != 9 {
		t.Errorf("x = %d, want 9", v.Int())
	}
	a.Merge(nil)
	if a.Len() != 2 {
		t.Errorf("Len after nil merge = %d, want 2", a.Len())
	}
}

func TestIsMetadataName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want bool
	}{
		{"_gpu.count", true},
		{"_cuda_version", true},
		{"gpu.0.temp", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsMetadataName(tc.name); got != tc.want {
			t.Errorf("IsMetadataName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
