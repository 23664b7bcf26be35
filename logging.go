package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/sstallion/go-hid"
)

var logger zerolog.Logger

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	logger = zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Logger()
	zlog.Logger = logger
}

// scanDevices prints every HID interface matching the given VID/PID
// (0 matches anything), for figuring out which UPS is on the bus.
func scanDevices(w io.Writer, vid, pid uint16) {
	found := 0
	hid.Enumerate(vid, pid, func(info *hid.DeviceInfo) error {
		found++
		fmt.Fprintf(w, "%04x:%04x  %-32q  serial=%q  usage=0x%04x/0x%02x  if=%d\n",
			info.VendorID, info.ProductID, info.ProductStr, info.SerialNbr,
			info.UsagePage, info.Usage, info.InterfaceNbr)
		fmt.Fprintf(w, "           path=%s\n", info.Path)
		return nil
	})
	if found == 0 {
		fmt.Fprintf(w, "no HID devices matching %04x:%04x\n", vid, pid)
	}
}
