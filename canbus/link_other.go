//go:build !linux

package canbus

// LinkStatus is only available on Linux.
func LinkStatus(name string) (LinkInfo, error) {
	if err := validateLinkName(name); err != nil {
		return LinkInfo{}, err
	}
	return LinkInfo{}, ErrUnsupported
}

// SetLinkUp is only available on Linux.
func SetLinkUp(name string) error { return ErrUnsupported }

// SetLinkDown is only available on Linux.
func SetLinkDown(name string) error { return ErrUnsupported }

// ConfigureLink is only available on Linux.
func ConfigureLink(name string, opts LinkOptions) error { return ErrUnsupported }

// RequireCapNetAdmin returns err unchanged on this platform.
func RequireCapNetAdmin(err error) error { return err }
