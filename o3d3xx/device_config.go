package o3d3xx

import "strconv"

// DeviceConfig is the typed subset of device parameters the bridge
// consumes. The full map is still available from GetDeviceParameters.
type DeviceConfig struct {
	Name              string
	Description       string
	ActiveApplication int
	PCICTCPPort       int
	SessionTimeout    int
}

func parseDeviceConfig(params map[string]string) *DeviceConfig {
	dc := &DeviceConfig{
		Name:        params["Name"],
		Description: params["Description"],
	}
	dc.ActiveApplication = atoiOr(params["ActiveApplication"], 0)
	dc.PCICTCPPort = atoiOr(params["PcicTcpPort"], DefaultPCICPort)
	dc.SessionTimeout = atoiOr(params["SessionTimeout"], 30)
	return dc
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// GetDeviceConfig reads and parses the device parameter map. Requires an
// open session in edit mode.
func (c *Camera) GetDeviceConfig() (*DeviceConfig, error) {
	params, err := c.GetDeviceParameters()
	if err != nil {
		return nil, err
	}
	return parseDeviceConfig(params), nil
}
