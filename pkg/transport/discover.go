// One-shot instrument discovery
//
// Discovery is a best-effort scan used when the configured resource
// fails: it is run once and never retried automatically; the caller
// decides what to do with the candidates.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"

	"scopectl/pkg/log"
)

// Discover scans for candidate instrument resources. It returns resource
// identifier strings ready for Open, ordered usbtmc first (the most
// reliable channel), then VID-matched serial ports, then raw USB
// devices with a known scope vendor id.
func Discover() []string {
	var resources []string

	// usbtmc kernel devices
	matches, err := filepath.Glob("/dev/usbtmc*")
	if err == nil {
		sort.Strings(matches)
		for _, m := range matches {
			resources = append(resources, "usbtmc:"+m)
		}
	}

	// Serial ports whose USB vendor id matches a known scope vendor
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		log.GetLogger("transport").WithError(err).Warn("serial port enumeration failed")
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if isKnownVendor(p.VID) {
			resources = append(resources, "serial:"+p.Name)
		}
	}

	// Raw USB devices with a known scope vendor id, for instruments
	// without a usbtmc binding or a CDC-ACM port.
	resources = append(resources, discoverUSB()...)

	return resources
}

func discoverUSB() []string {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var resources []string
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, vid := range knownScopes {
			if desc.Vendor == vid {
				resources = append(resources,
					fmt.Sprintf("usb:%04x:%04x", uint16(desc.Vendor), uint16(desc.Product)))
			}
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		log.GetLogger("transport").WithError(err).Warn("usb enumeration failed")
	}
	return resources
}

func isKnownVendor(vid string) bool {
	v, err := strconv.ParseUint(strings.TrimPrefix(vid, "0x"), 16, 16)
	if err != nil {
		return false
	}
	for _, known := range knownScopes {
		if uint64(known) == v {
			return true
		}
	}
	return false
}

// DescribeCandidates renders a discovery result for log and CLI output.
func DescribeCandidates(resources []string) string {
	if len(resources) == 0 {
		return "no instruments found"
	}
	return fmt.Sprintf("%d candidate(s): %s", len(resources), strings.Join(resources, ", "))
}
