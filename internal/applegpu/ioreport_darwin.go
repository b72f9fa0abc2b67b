//go:build darwin

package applegpu

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/purego"
)

var (
	iorCopyChannelsInGroup   func(group, subgroup uintptr, a, b, c uint64) uintptr
	iorMergeChannels         func(dst, src, nilRef uintptr)
	iorCreateSubscription    func(allocator, channels uintptr, subbedChannels *uintptr, channelID uint64, options uintptr) uintptr
	iorCreateSamples         func(subscription, channels, options uintptr) uintptr
	iorCreateSamplesDelta    func(prev, current, options uintptr) uintptr
	iorChannelGetGroup       func(item uintptr) uintptr
	iorChannelGetSubGroup    func(item uintptr) uintptr
	iorChannelGetName        func(item uintptr) uintptr
	iorChannelGetUnitLabel   func(item uintptr) uintptr
	iorSimpleGetIntegerValue func(item uintptr, index int32) int64
	iorStateGetCount         func(item uintptr) int32
	iorStateGetNameForIndex  func(item uintptr, index int32) uintptr
	iorStateGetResidency     func(item uintptr, index int32) int64
)

var loadIOReportOnce = sync.OnceValue(func() error {
	if err := loadCoreFoundationOnce(); err != nil {
		return err
	}
	lib, err := purego.Dlopen("/usr/lib/libIOReport.dylib", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("applegpu: loading libIOReport: %w", err)
	}
	purego.RegisterLibFunc(&iorCopyChannelsInGroup, lib, "IOReportCopyChannelsInGroup")
	purego.RegisterLibFunc(&iorMergeChannels, lib, "IOReportMergeChannels")
	purego.RegisterLibFunc(&iorCreateSubscription, lib, "IOReportCreateSubscription")
	purego.RegisterLibFunc(&iorCreateSamples, lib, "IOReportCreateSamples")
	purego.RegisterLibFunc(&iorCreateSamplesDelta, lib, "IOReportCreateSamplesDelta")
	purego.RegisterLibFunc(&iorChannelGetGroup, lib, "IOReportChannelGetGroup")
	purego.RegisterLibFunc(&iorChannelGetSubGroup, lib, "IOReportChannelGetSubGroup")
	purego.RegisterLibFunc(&iorChannelGetName, lib, "IOReportChannelGetChannelName")
	purego.RegisterLibFunc(&iorChannelGetUnitLabel, lib, "IOReportChannelGetUnitLabel")
	purego.RegisterLibFunc(&iorSimpleGetIntegerValue, lib, "IOReportSimpleGetIntegerValue")
	purego.RegisterLibFunc(&iorStateGetCount, lib, "IOReportStateGetCount")
	purego.RegisterLibFunc(&iorStateGetNameForIndex, lib, "IOReportStateGetNameForIndex")
	purego.RegisterLibFunc(&iorStateGetResidency, lib, "IOReportStateGetResidency")
	return nil
})

// channelFilter selects an IOReport channel group, optionally narrowed
// to one subgroup.
type channelFilter struct {
	Group    string
	Subgroup string
}

// reportSubscription holds a live IOReport subscription and the merged
// channel dictionary it samples from.
type reportSubscription struct {
	subs  uintptr
	chans uintptr
}

func newReportSubscription(filters []channelFilter) (*reportSubscription, error) {
	if err := loadIOReportOnce(); err != nil {
		return nil, err
	}

	channels := make([]uintptr, 0, len(filters))
	releaseChannels := func() {
		for _, ch := range channels {
			cfRelease(ch)
		}
	}

	for _, f := range filters {
		group := cfstr(f.Group)
		subgroup := uintptr(0)
		if f.Subgroup != "" {
			subgroup = cfstr(f.Subgroup)
		}
		ch := iorCopyChannelsInGroup(group, subgroup, 0, 0, 0)
		cfRelease(group)
		if subgroup != 0 {
			cfRelease(subgroup)
		}
		if ch == 0 {
			releaseChannels()
			return nil, fmt.Errorf("applegpu: no IOReport channels in group %q", f.Group)
		}
		channels = append(channels, ch)
	}

	for i := 1; i < len(channels); i++ {
		iorMergeChannels(channels[0], channels[i], 0)
	}
	merged := cfDictionaryCreateMutableCopy(0, cfDictionaryGetCount(channels[0]), channels[0])
	releaseChannels()

	if cfdictGet(merged, "IOReportChannels") == 0 {
		cfRelease(merged)
		return nil, fmt.Errorf("applegpu: merged channel dictionary has no channels")
	}

	var subbed uintptr
	subs := iorCreateSubscription(0, merged, &subbed, 0, 0)
	if subs == 0 {
		cfRelease(merged)
		return nil, fmt.Errorf("applegpu: IOReportCreateSubscription failed")
	}
	return &reportSubscription{subs: subs, chans: merged}, nil
}

// sample takes two snapshots separated by window and returns their
// delta. The caller must release the returned sample.
func (r *reportSubscription) sample(ctx context.Context, window time.Duration) (*reportSample, error) {
	first := iorCreateSamples(r.subs, r.chans, 0)
	if first == 0 {
		return nil, fmt.Errorf("applegpu: IOReportCreateSamples failed")
	}
	select {
	case <-ctx.Done():
		cfRelease(first)
		return nil, ctx.Err()
	case <-time.After(window):
	}
	second := iorCreateSamples(r.subs, r.chans, 0)
	if second == 0 {
		cfRelease(first)
		return nil, fmt.Errorf("applegpu: IOReportCreateSamples failed")
	}

	delta := iorCreateSamplesDelta(first, second, 0)
	cfRelease(first)
	cfRelease(second)
	if delta == 0 {
		return nil, fmt.Errorf("applegpu: IOReportCreateSamplesDelta failed")
	}

	items := cfdictGet(delta, "IOReportChannels")
	if items == 0 {
		cfRelease(delta)
		return nil, fmt.Errorf("applegpu: sample delta has no channels")
	}
	return &reportSample{dict: delta, items: items, n: int(cfArrayGetCount(items))}, nil
}

func (r *reportSubscription) release() {
	cfRelease(r.chans)
	cfRelease(r.subs)
}

// reportSample iterates a sample delta exactly once.
type reportSample struct {
	dict  uintptr
	items uintptr
	n     int
	i     int
}

// reportItem is one channel of a sample delta. The ref stays valid
// until the owning reportSample is released.
type reportItem struct {
	Group    string
	Subgroup string
	Channel  string
	Unit     string
	ref      uintptr
}

func (s *reportSample) next() (reportItem, bool) {
	if s.i >= s.n {
		return reportItem{}, false
	}
	item := cfArrayGetValueAtIndex(s.items, int64(s.i))
	s.i++
	return reportItem{
		Group:    goString(iorChannelGetGroup(item)),
		Subgroup: goString(iorChannelGetSubGroup(item)),
		Channel:  goString(iorChannelGetName(item)),
		Unit:     strings.TrimSpace(goString(iorChannelGetUnitLabel(item))),
		ref:      item,
	}, true
}

func (s *reportSample) release() {
	cfRelease(s.dict)
}

func (it reportItem) residencies() []stateResidency {
	count := iorStateGetCount(it.ref)
	out := make([]stateResidency, 0, count)
	for i := int32(0); i < count; i++ {
		out = append(out, stateResidency{
			Name:  goString(iorStateGetNameForIndex(it.ref, i)),
			Value: iorStateGetResidency(it.ref, i),
		})
	}
	return out
}

func (it reportItem) simpleValue() int64 {
	return iorSimpleGetIntegerValue(it.ref, 0)
}
