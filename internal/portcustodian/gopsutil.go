package portcustodian

import (
	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// lookupOwnerGopsutil lists TCP listeners and returns the PID bound to
// port, or 0 if none is found.
func lookupOwnerGopsutil(port int) (int32, error) {
	conns, err := gnet.Connections("tcp")
	if err != nil {
		return 0, err
	}
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		if int(c.Laddr.Port) == port {
			return c.Pid, nil
		}
	}
	return 0, nil
}

// processNameGopsutil fetches the executable name for pid.
func processNameGopsutil(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", err
	}
	return p.Name()
}

// killProcessGopsutil terminates pid.
func killProcessGopsutil(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
