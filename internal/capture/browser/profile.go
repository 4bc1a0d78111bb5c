package browser

import "github.com/snapgate/engine/pkg/types"

// DeviceProfile describes the emulation parameters for a device class,
// including the viewport used when a request does not pin its own size.
type DeviceProfile struct {
	UserAgent   string
	Width       int
	Height      int
	ScaleFactor float64
	Mobile      bool
	Touch       bool
}

var deviceProfiles = map[types.Device]DeviceProfile{
	types.DeviceDesktop: {
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Width:       1920,
		Height:      1080,
		ScaleFactor: 1.0,
	},
	types.DeviceTablet: {
		UserAgent:   "Mozilla/5.0 (iPad; CPU OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
		Width:       1024,
		Height:      768,
		ScaleFactor: 2.0,
		Mobile:      true,
		Touch:       true,
	},
	types.DeviceMobile: {
		UserAgent:   "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Mobile Safari/537.36",
		Width:       390,
		Height:      844,
		ScaleFactor: 3.0,
		Mobile:      true,
		Touch:       true,
	},
}

// ProfileFor returns the emulation profile for a device, defaulting to
// desktop for unknown values.
func ProfileFor(device types.Device) DeviceProfile {
	if p, ok := deviceProfiles[device]; ok {
		return p
	}
	return deviceProfiles[types.DeviceDesktop]
}

// Viewport resolves the session dimensions, falling back to the profile
// defaults for any dimension the request leaves unset.
func (p DeviceProfile) Viewport(width, height int) (int64, int64) {
	if width <= 0 {
		width = p.Width
	}
	if height <= 0 {
		height = p.Height
	}
	return int64(width), int64(height)
}
