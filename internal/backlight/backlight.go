// Package backlight controls a kernel backlight device through sysfs.
package backlight

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Backlight is the screen power and brightness surface.
type Backlight interface {
	SetPower(on bool) error
	SetBrightness(level int) error
}

// Sysfs writes to a /sys/class/backlight/<device> directory.
type Sysfs struct {
	Dir string
}

// SetPower writes bl_power: 0 is on, 1 is off.
func (s Sysfs) SetPower(on bool) error {
	v := "1"
	if on {
		v = "0"
	}
	return s.write("bl_power", v)
}

// SetBrightness writes the raw brightness level.
func (s Sysfs) SetBrightness(level int) error {
	return s.write("brightness", strconv.Itoa(level))
}

func (s Sysfs) write(name, value string) error {
	path := filepath.Join(s.Dir, name)
	// O_TRUNC without O_CREATE: sysfs attributes always exist.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("backlight: %w", err)
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return fmt.Errorf("backlight: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("backlight: close %s: %w", path, err)
	}
	return nil
}
