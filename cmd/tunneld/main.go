// Command tunneld runs the tunnel endpoint as a standalone process:
// it opens a UDP bind, starts the device's receive path, and delivers
// decrypted traffic into an in-process netstack rather than an OS TUN
// interface.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/wireward/tunneld/conn"
	"github.com/wireward/tunneld/device"
	"github.com/wireward/tunneld/netstack"
)

const (
	exitSetupSuccess = 0
	exitSetupFailed  = 1
)

func main() {
	var (
		listenPort = flag.Uint("port", 51820, "UDP listen port")
		privateKey = flag.String("private-key", "", "hex-encoded Curve25519 private key")
		address    = flag.String("address", "", "local tunnel IP address (comma-separated for multiple)")
		verbose    = flag.Bool("verbose", false, "enable verbose logging")
		useRawIP   = flag.Bool("raw-ip", false, "read/write whole IP datagrams instead of a plain UDP socket")
		fwmark     = flag.Uint("fwmark", 0, "SO_MARK to apply to the bind's sockets (Linux only, 0 disables)")
	)
	flag.Parse()

	if *privateKey == "" {
		fmt.Fprintln(os.Stderr, "tunneld: -private-key is required")
		os.Exit(exitSetupFailed)
	}

	level := device.LogLevelError
	if *verbose {
		level = device.LogLevelVerbose
	}
	logger := device.NewLogger(level, "(tunneld) ")

	var sk device.NoisePrivateKey
	if err := sk.FromHex(*privateKey); err != nil {
		logger.Errorf("invalid private key: %v", err)
		os.Exit(exitSetupFailed)
	}

	localAddrs, err := parseAddresses(*address)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(exitSetupFailed)
	}

	const mtu = 1420
	stack, err := netstack.New(localAddrs, mtu)
	if err != nil {
		logger.Errorf("failed to start netstack: %v", err)
		os.Exit(exitSetupFailed)
	}

	var bind conn.Bind
	if *useRawIP {
		bind = conn.NewRawIPBind()
	} else {
		bind = conn.NewStdNetBind()
	}

	dev := device.NewDevice(bind, stack, logger)
	dev.SetPrivateKey(sk)

	if _, err := bind.Open(uint16(*listenPort)); err != nil {
		logger.Errorf("failed to open UDP bind on port %d: %v", *listenPort, err)
		os.Exit(exitSetupFailed)
	}

	if *fwmark != 0 {
		if marker, ok := bind.(conn.Marker); ok {
			if err := marker.SetMark(uint32(*fwmark)); err != nil {
				logger.Errorf("failed to set fwmark %d: %v", *fwmark, err)
				os.Exit(exitSetupFailed)
			}
		}
	}

	go runReceiveLoop(dev, bind, logger)

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM, os.Interrupt)
	<-term

	dev.Close()
	os.Exit(exitSetupSuccess)
}

// runReceiveLoop is the non-blocking I/O goroutine feeding the
// receive entry point (component F): it owns the one job of reading
// IPv4 datagrams and handing them to Device.ReceiveIPv4 as fast as the
// kernel delivers them. The IPv6 side of the bind is not read.
func runReceiveLoop(dev *device.Device, bind conn.Bind, logger *device.Logger) {
	buf := make([]byte, device.MaxMessageSize)
	for {
		n, src, err := bind.ReceiveIPv4(buf)
		if err != nil {
			logger.Errorf("receive error: %v", err)
			continue
		}
		dev.ReceiveIPv4(buf[:n], src)
	}
}

func parseAddresses(csv string) ([]net.IP, error) {
	if csv == "" {
		return nil, nil
	}
	var out []net.IP
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			part := csv[start:i]
			start = i + 1
			if part == "" {
				continue
			}
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("tunneld: %q is not a valid IP address", part)
			}
			out = append(out, ip)
		}
	}
	return out, nil
}
