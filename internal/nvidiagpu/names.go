package nvidiagpu

import (
	"fmt"
	"sync"

	"github.com/jaypipes/pcidb"
)

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
	pciErr  error
)

// lookupDeviceName resolves a product name from the PCI ID database
// when NVML cannot report one. combined is NVML's pciDeviceId field:
// device id in the high 16 bits, vendor id in the low 16.
func lookupDeviceName(combined uint32) string {
	db := loadPCIDatabase()
	if db == nil {
		return ""
	}

	vendorID := fmt.Sprintf("%04x", combined&0xffff)
	deviceID := fmt.Sprintf("%04x", combined>>16)
	product, ok := db.Products[vendorID+deviceID]
	if !ok || product == nil {
		return ""
	}
	return product.Name
}

func loadPCIDatabase() *pcidb.PCIDB {
	pciOnce.Do(func() {
		pciDB, pciErr = pcidb.New()
	})
	if pciErr != nil || pciDB == nil {
		return nil
	}
	return pciDB
}
