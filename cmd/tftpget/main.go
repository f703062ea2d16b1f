// Command tftpget fetches a single file over tftp://, tftm://, or mtftp://
// and writes it to disk, printing a progress line as blocks arrive.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/krolaw/dhcp4"
	"github.com/spf13/cobra"

	"github.com/gotftp/engine/internal/dhcpsettings"
	"github.com/gotftp/engine/internal/tftp"
)

var (
	outPath     string
	blksize     int
	mtftpAddr   string
	mtftpPort   int
	dhcpAckPath string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tftpget <uri>",
		Short: "Fetch a file over TFTP, TFTM, or MTFTP",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file (default: basename of the remote path)")
	cmd.Flags().IntVar(&blksize, "blksize", 65464, "blksize to propose in the RRQ")
	cmd.Flags().StringVar(&mtftpAddr, "mtftp-group", "239.255.1.1", "MTFTP multicast group")
	cmd.Flags().IntVar(&mtftpPort, "mtftp-port", 3001, "MTFTP multicast port")
	cmd.Flags().StringVar(&dhcpAckPath, "dhcp-ack", "", "path to a raw DHCPACK packet whose siaddr (next-server) overrides the URI's host before the transfer starts")
	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	target, mode, err := tftp.ParseTarget(args[0])
	if err != nil {
		return err
	}

	if dhcpAckPath != "" {
		target, err = applyDHCPNextServer(dhcpAckPath, target)
		if err != nil {
			return err
		}
	}

	out := outPath
	if out == "" {
		out = filepath.Base(target.Path)
	}

	cfg := tftp.DefaultConfig()
	cfg.SetRequestBlksize(blksize)
	cfg.SetMTFTPAddress(net.ParseIP(mtftpAddr))
	cfg.SetMTFTPPort(mtftpPort)

	sink, err := tftp.NewFileSink(out, blksize)
	if err != nil {
		return err
	}

	progress := &progressSink{Sink: sink, path: out, start: time.Now()}

	req, err := tftp.Open(progress, target, mode, cfg)
	if err != nil {
		return err
	}
	if err := req.Wait(); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

// applyDHCPNextServer decodes a raw DHCPACK captured to disk and, if its
// siaddr ("next server") field names a host, rewrites target to point
// there instead.
func applyDHCPNextServer(path string, target tftp.Target) (tftp.Target, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return target, fmt.Errorf("reading dhcp-ack: %w", err)
	}
	settings := dhcpsettings.NewSettings(nil)
	settings.ApplyNextServer(dhcp4.Packet(raw))
	return settings.Resolve(target), nil
}

// progressSink wraps a Sink to print a simple byte counter, reading the
// negotiated blksize back through Window.
type progressSink struct {
	tftp.Sink
	path     string
	start    time.Time
	received int64
}

// SetWindow forwards to the wrapped Sink so the Request's negotiated-blksize
// push-back (tftp.WindowSetter) still reaches the FileSink underneath the
// progress meter.
func (p *progressSink) SetWindow(n int) {
	if ws, ok := p.Sink.(tftp.WindowSetter); ok {
		ws.SetWindow(n)
	}
}

func (p *progressSink) Write(offset int64, b []byte) error {
	if err := p.Sink.Write(offset, b); err != nil {
		return err
	}
	p.received += int64(len(b))
	elapsed := time.Since(p.start).Seconds()
	rate := float64(0)
	if elapsed > 0 {
		rate = float64(p.received) / elapsed / 1024
	}
	fmt.Printf("\r%s: %d bytes (%.1f KiB/s, window=%d)", p.path, p.received, rate, p.Sink.Window())
	return nil
}
