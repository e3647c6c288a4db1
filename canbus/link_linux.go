//go:build linux

package canbus

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/vishvananda/netlink"
)

// Changing links requires CAP_NET_ADMIN. Without it the calls below return
// EPERM wrapped by RequireCapNetAdmin.

// LinkStatus returns the current state of the named CAN link.
func LinkStatus(name string) (LinkInfo, error) {
	link, err := lookupLink(name)
	if err != nil {
		return LinkInfo{}, err
	}
	attrs := link.Attrs()
	return LinkInfo{
		Name:       attrs.Name,
		Type:       link.Type(),
		Up:         attrs.Flags&net.FlagUp != 0,
		OperState:  attrs.OperState.String(),
		TxQueueLen: attrs.TxQLen,
		Index:      attrs.Index,
	}, nil
}

// SetLinkUp brings the link up. It is a no-op if the link is already up.
func SetLinkUp(name string) error {
	link, err := lookupLink(name)
	if err != nil {
		return err
	}
	if link.Attrs().Flags&net.FlagUp != 0 {
		return nil
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return RequireCapNetAdmin(fmt.Errorf("canbus: set %s up: %w", name, err))
	}
	return nil
}

// SetLinkDown brings the link down. It is a no-op if the link is already down.
func SetLinkDown(name string) error {
	link, err := lookupLink(name)
	if err != nil {
		return err
	}
	if link.Attrs().Flags&net.FlagUp == 0 {
		return nil
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return RequireCapNetAdmin(fmt.Errorf("canbus: set %s down: %w", name, err))
	}
	return nil
}

// ConfigureLink applies the non-nil options to a CAN link. Bitrate and
// restart-ms usually require the link to be down; the link is cycled
// down and back up around them when it was up.
func ConfigureLink(name string, opts LinkOptions) error {
	link, err := lookupLink(name)
	if err != nil {
		return err
	}
	if opts.TxQueueLen != nil {
		if err := netlink.LinkSetTxQLen(link, *opts.TxQueueLen); err != nil {
			return RequireCapNetAdmin(fmt.Errorf("canbus: set %s txqueuelen: %w", name, err))
		}
	}
	if opts.Bitrate == nil && opts.RestartMs == nil {
		return nil
	}

	wasUp := link.Attrs().Flags&net.FlagUp != 0
	if wasUp {
		if err := netlink.LinkSetDown(link); err != nil {
			return RequireCapNetAdmin(fmt.Errorf("canbus: set %s down: %w", name, err))
		}
	}
	// netlink has no setter for IFLA_CAN_BITTIMING; iproute2 does it.
	args := []string{"link", "set", "dev", name, "type", "can"}
	if opts.Bitrate != nil {
		args = append(args, "bitrate", strconv.FormatUint(uint64(*opts.Bitrate), 10))
	}
	if opts.RestartMs != nil {
		args = append(args, "restart-ms", strconv.FormatUint(uint64(*opts.RestartMs), 10))
	}
	if out, err := exec.Command("ip", args...).CombinedOutput(); err != nil {
		return RequireCapNetAdmin(fmt.Errorf("canbus: ip %v: %w; output: %s", args, err, out))
	}
	if wasUp {
		if err := netlink.LinkSetUp(link); err != nil {
			return RequireCapNetAdmin(fmt.Errorf("canbus: set %s up: %w", name, err))
		}
	}
	return nil
}

func lookupLink(name string) (netlink.Link, error) {
	if err := validateLinkName(name); err != nil {
		return nil, err
	}
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("canbus: link %q: %w", name, err)
	}
	return link, nil
}

// RequireCapNetAdmin maps EPERM to a clearer error message advising to grant
// CAP_NET_ADMIN to the binary.
func RequireCapNetAdmin(err error) error {
	if errors.Is(err, syscall.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}
