// Raw USB bulk-endpoint backend
//
// For instruments reachable without a usbtmc kernel binding: claims the
// default interface and moves SCPI text over the bulk OUT/IN endpoint
// pair, the way USBTMC-class scopes expose it.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"

	"scopectl/pkg/errors"
)

// knownScopes lists USB vendor/product IDs this host recognizes during
// discovery and for the bare "usb:" resource.
var knownScopes = []gousb.ID{
	0x1ab1, // Rigol Technologies
	0x0957, // Keysight / Agilent
	0x0699, // Tektronix
	0x5345, // Owon
}

// NewUSB creates a transport over raw USB bulk endpoints. The target is
// either empty (first device with a known scope vendor ID) or an
// explicit "vid:pid" pair in hex, e.g. "1ab1:04ce".
func NewUSB(target string, cfg Config) (Transport, error) {
	var vid, pid int64 = -1, -1
	if target != "" {
		vs, ps, ok := strings.Cut(target, ":")
		if !ok {
			return nil, fmt.Errorf("usb: malformed target %q (want vid:pid)", target)
		}
		var err error
		if vid, err = strconv.ParseInt(vs, 16, 32); err != nil {
			return nil, fmt.Errorf("usb: bad vendor id %q", vs)
		}
		if pid, err = strconv.ParseInt(ps, 16, 32); err != nil {
			return nil, fmt.Errorf("usb: bad product id %q", ps)
		}
	}
	return newSession("usb:"+target, func() (conn, error) {
		return dialUSB(int32(vid), int32(pid), cfg)
	}), nil
}

type usbConn struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	done    func()
	out     *gousb.OutEndpoint
	in      *gousb.InEndpoint
	timeout time.Duration
}

func dialUSB(vid, pid int32, cfg Config) (conn, error) {
	ctx := gousb.NewContext()

	var dev *gousb.Device
	var err error
	if vid >= 0 {
		dev, err = ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
		if err == nil && dev == nil {
			err = fmt.Errorf("usb: device %04x:%04x not found", vid, pid)
		}
	} else {
		dev, err = openFirstKnown(ctx)
	}
	if err != nil {
		ctx.Close()
		return nil, err
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usb: claim default interface: %w", err)
	}

	out, in, err := bulkEndpoints(intf)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, err
	}

	dev.ControlTimeout = cfg.ReadTimeout
	return &usbConn{
		ctx: ctx, dev: dev, done: done, out: out, in: in,
		timeout: cfg.ReadTimeout,
	}, nil
}

func openFirstKnown(ctx *gousb.Context) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, vid := range knownScopes {
			if desc.Vendor == vid {
				return true
			}
		}
		return false
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("usb: enumerate: %w", err)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("usb: no instrument with a known vendor id")
	}
	for _, d := range devs[1:] {
		d.Close()
	}
	return devs[0], nil
}

// bulkEndpoints picks the first bulk OUT and bulk IN endpoint of the
// claimed interface.
func bulkEndpoints(intf *gousb.Interface) (*gousb.OutEndpoint, *gousb.InEndpoint, error) {
	var out *gousb.OutEndpoint
	var in *gousb.InEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionOut && out == nil {
			o, err := intf.OutEndpoint(ep.Number)
			if err != nil {
				return nil, nil, fmt.Errorf("usb: out endpoint %d: %w", ep.Number, err)
			}
			out = o
		}
		if ep.Direction == gousb.EndpointDirectionIn && in == nil {
			i, err := intf.InEndpoint(ep.Number)
			if err != nil {
				return nil, nil, fmt.Errorf("usb: in endpoint %d: %w", ep.Number, err)
			}
			in = i
		}
	}
	if out == nil || in == nil {
		return nil, nil, fmt.Errorf("usb: interface has no bulk endpoint pair")
	}
	return out, in, nil
}

func (c *usbConn) framed() bool { return true }

// write moves a command over the bulk OUT endpoint. Deadlines are
// enforced per transfer: a plain endpoint Write can block forever on an
// unresponsive instrument.
func (c *usbConn) write(p []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	n, err := c.out.WriteContext(ctx, p)
	if err != nil {
		return usbTransferErr(ctx, err, "write")
	}
	if n != len(p) {
		return fmt.Errorf("usb: short write (%d of %d)", n, len(p))
	}
	return nil
}

func (c *usbConn) read(max int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	buf := make([]byte, max)
	n, err := c.in.ReadContext(ctx, buf)
	if err != nil {
		return nil, usbTransferErr(ctx, err, "read")
	}
	return buf[:n], nil
}

// usbTransferErr maps a failed bulk transfer to the transport taxonomy:
// an expired deadline is a timeout like on every other backend,
// anything else passes through.
func usbTransferErr(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return errors.New(errors.ErrTransportTimeout, "usb "+op+" timed out")
	}
	return fmt.Errorf("usb: %s: %w", op, err)
}

func (c *usbConn) close() error {
	c.done()
	err := c.dev.Close()
	c.ctx.Close()
	return err
}
