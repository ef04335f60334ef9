package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bibfleet/fleet/pkg/model"
)

// LinuxEnumerator lists /dev/ttyUSB* and /dev/ttyACM* nodes, the device
// names a USB-to-serial bridge exposes on Linux.
type LinuxEnumerator struct {
	DevRoot string // default "/dev"
}

func NewLinuxEnumerator() *LinuxEnumerator {
	return &LinuxEnumerator{DevRoot: "/dev"}
}

func (e *LinuxEnumerator) ListEndpoints() ([]string, error) {
	root := e.DevRoot
	if root == "" {
		root = "/dev"
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		name := ent.Name()
		if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
			out = append(out, filepath.Join(root, name))
		}
	}
	return out, nil
}

// SysfsMetadataReader reads vendor/product/serial/manufacturer/product
// description from the usb-serial device's sysfs attributes, following
// the sysfs-walking technique read from ardnew-softusb's linux HAL
// (host/hal/linux/sysfs.go, reference only — that repo implements raw USB
// enumeration itself; here the OS has already done that and exposed the
// result under /sys/class/tty).
type SysfsMetadataReader struct {
	SysRoot string // default "/sys/class/tty"
}

func NewSysfsMetadataReader() *SysfsMetadataReader {
	return &SysfsMetadataReader{SysRoot: "/sys/class/tty"}
}

func (r *SysfsMetadataReader) ReadMetadata(endpoint string) (model.DeviceMetadata, error) {
	root := r.SysRoot
	if root == "" {
		root = "/sys/class/tty"
	}
	dev := filepath.Base(endpoint)
	base := filepath.Join(root, dev, "device")

	meta := model.DeviceMetadata{}

	// The usb-serial converter's own attributes sit two directories up
	// from the tty device's own sysfs node. The path is concatenated, not
	// joined, so the ".." elements are resolved by the kernel after the
	// device symlink rather than cleaned away lexically.
	usbBase := base + "/../../"
	var firstErr error
	readUSB := func(rel string) string {
		b, err := os.ReadFile(usbBase + rel)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		return strings.TrimSpace(string(b))
	}

	meta.VendorID = readUSB("idVendor")
	meta.ProductID = readUSB("idProduct")
	meta.Serial = readUSB("serial")
	meta.Manufacturer = readUSB("manufacturer")
	meta.ProductDescription = readUSB("product")

	if meta.VendorID == "" && meta.ProductID == "" {
		return meta, firstErr
	}
	return meta, nil
}
