//go:build darwin

package applegpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

const (
	cfStringEncodingUTF8 = 0x08000100
	cfNumberSInt32Type   = 3
)

var (
	cfRelease                     func(ref uintptr)
	cfStringCreateWithCString     func(alloc uintptr, s string, encoding uint32) uintptr
	cfStringGetLength             func(ref uintptr) int64
	cfStringGetCString            func(ref uintptr, buf *byte, size int64, encoding uint32) bool
	cfArrayGetCount               func(ref uintptr) int64
	cfArrayGetValueAtIndex        func(ref uintptr, index int64) uintptr
	cfDictionaryGetValue          func(dict, key uintptr) uintptr
	cfDictionaryGetCount          func(dict uintptr) int64
	cfDictionaryCreateMutableCopy func(alloc uintptr, capacity int64, dict uintptr) uintptr
	cfDictionaryCreate            func(alloc uintptr, keys, values *uintptr, count int64, keyCallbacks, valueCallbacks uintptr) uintptr
	cfDataGetLength               func(ref uintptr) int64
	cfDataGetBytePtr              func(ref uintptr) *byte
	cfNumberCreate                func(alloc uintptr, numberType int64, value *int32) uintptr

	cfTypeDictKeyCallbacks   uintptr
	cfTypeDictValueCallbacks uintptr
)

var loadCoreFoundationOnce = sync.OnceValue(func() error {
	lib, err := purego.Dlopen("/System/Library/Frameworks/CoreFoundation.framework/CoreFoundation", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("applegpu: loading CoreFoundation: %w", err)
	}
	purego.RegisterLibFunc(&cfRelease, lib, "CFRelease")
	purego.RegisterLibFunc(&cfStringCreateWithCString, lib, "CFStringCreateWithCString")
	purego.RegisterLibFunc(&cfStringGetLength, lib, "CFStringGetLength")
	purego.RegisterLibFunc(&cfStringGetCString, lib, "CFStringGetCString")
	purego.RegisterLibFunc(&cfArrayGetCount, lib, "CFArrayGetCount")
	purego.RegisterLibFunc(&cfArrayGetValueAtIndex, lib, "CFArrayGetValueAtIndex")
	purego.RegisterLibFunc(&cfDictionaryGetValue, lib, "CFDictionaryGetValue")
	purego.RegisterLibFunc(&cfDictionaryGetCount, lib, "CFDictionaryGetCount")
	purego.RegisterLibFunc(&cfDictionaryCreateMutableCopy, lib, "CFDictionaryCreateMutableCopy")
	purego.RegisterLibFunc(&cfDictionaryCreate, lib, "CFDictionaryCreate")
	purego.RegisterLibFunc(&cfDataGetLength, lib, "CFDataGetLength")
	purego.RegisterLibFunc(&cfDataGetBytePtr, lib, "CFDataGetBytePtr")
	purego.RegisterLibFunc(&cfNumberCreate, lib, "CFNumberCreate")

	if cfTypeDictKeyCallbacks, err = purego.Dlsym(lib, "kCFTypeDictionaryKeyCallBacks"); err != nil {
		return fmt.Errorf("applegpu: resolving kCFTypeDictionaryKeyCallBacks: %w", err)
	}
	if cfTypeDictValueCallbacks, err = purego.Dlsym(lib, "kCFTypeDictionaryValueCallBacks"); err != nil {
		return fmt.Errorf("applegpu: resolving kCFTypeDictionaryValueCallBacks: %w", err)
	}
	return nil
})

// cfstr interns s as a CFString. The caller owns the returned reference.
func cfstr(s string) uintptr {
	return cfStringCreateWithCString(0, s, cfStringEncodingUTF8)
}

func goString(ref uintptr) string {
	if ref == 0 {
		return ""
	}
	n := cfStringGetLength(ref)
	buf := make([]byte, n*4+1)
	if !cfStringGetCString(ref, &buf[0], int64(len(buf)), cfStringEncodingUTF8) {
		return ""
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func cfdictGet(dict uintptr, key string) uintptr {
	k := cfstr(key)
	defer cfRelease(k)
	return cfDictionaryGetValue(dict, k)
}

func cfdataBytes(ref uintptr) []byte {
	n := cfDataGetLength(ref)
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice(cfDataGetBytePtr(ref), n))
	return out
}
