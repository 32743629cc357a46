// Command steamroll is a headless CLI front-end over the transfer
// subsystem: send a package, receive on a listening port, announce/watch
// LAN discovery, or pull a large file from several peers at once.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/nordicnode/steamroll/internal/config"
	"github.com/nordicnode/steamroll/internal/discovery"
	"github.com/nordicnode/steamroll/internal/pairing"
	"github.com/nordicnode/steamroll/internal/receiver"
	"github.com/nordicnode/steamroll/internal/sender"
	"github.com/nordicnode/steamroll/internal/swarm"
	"github.com/nordicnode/steamroll/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := newLogger()

	var err error
	switch os.Args[1] {
	case "send":
		err = runSend(log, os.Args[2:])
	case "receive":
		err = runReceive(log, os.Args[2:])
	case "discover":
		err = runDiscover(log, os.Args[2:])
	case "swarm-pull":
		err = runSwarmPull(log, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		color.Red("steamroll: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: steamroll <send|receive|discover|swarm-pull> [flags]")
}

func newLogger() *slog.Logger {
	opts := logging.DefaultOptions()
	handler := logging.NewPrettyHandler(os.Stdout, &opts)
	return slog.New(handler)
}

func contextWithSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSend(log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", "", "receiver address host:port")
	packageRoot := fs.String("package", "", "path to the package root directory")
	gameName := fs.String("name", "", "game name advertised in the header")
	compress := fs.Bool("compress", false, "enable GZip compression (V2)")
	encrypt := fs.Bool("encrypt", false, "require AES-256-GCM encryption (V3)")
	rateLimit := fs.Int64("rate-limit", 0, "max bytes/second, 0 = unlimited")
	fs.Parse(args)

	if *addr == "" || *packageRoot == "" || *gameName == "" {
		return fmt.Errorf("send requires -addr, -package, and -name")
	}

	settings := config.DefaultSettings()
	settings.EnableCompression = *compress
	settings.RequireEncryption = *encrypt
	settings.TransferSpeedLimitBps = *rateLimit

	sess := &sender.Session{
		Settings:    settings,
		PackageRoot: *packageRoot,
		GameName:    *gameName,
		Log:         log,
		OnProgress: func(p sender.Progress) {
			color.Cyan("sending %s (%d/%d files, %d/%d bytes)", p.CurrentFile, p.FilesSent, p.TotalFiles, p.BytesSent, p.TotalBytes)
		},
	}

	ctx, cancel := contextWithSignals()
	defer cancel()

	complete, err := sender.DialAndSend(ctx, sess, *addr)
	if err != nil {
		return err
	}

	color.Green("transfer complete: %d files, %d bytes", complete.FilesReceived, complete.BytesReceived)
	return nil
}

func runReceive(log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	port := fs.Int("port", config.DefaultTransferPort, "TCP port to listen on")
	destination := fs.String("destination", "", "directory to receive packages into")
	autoApprove := fs.Bool("auto-approve", true, "approve incoming transfers without prompting")
	fs.Parse(args)

	if *destination == "" {
		return fmt.Errorf("receive requires -destination")
	}

	settings := config.DefaultSettings()
	settings.TransferPort = *port

	var onApproval receiver.ApprovalFunc
	if !*autoApprove {
		onApproval = func(req receiver.ApprovalRequest) {
			color.Yellow("incoming transfer %q: %d files, %d bytes. Accepting (no interactive UI wired).", req.GameName, req.TotalFiles, req.TotalSize)
			req.Decision <- true
		}
	}

	handler := receiver.NewHandler(settings, pairing.NewMemoryKeyStore(), onApproval, log)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		return err
	}
	defer ln.Close()

	ctx, cancel := contextWithSignals()
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	color.Green("listening on :%d, writing packages into %s", *port, *destination)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("accept failed", "error", err)
			continue
		}

		go func() {
			defer conn.Close()
			remote := conn.RemoteAddr().String()
			if err := handler.Handle(ctx, conn, remote, *destination); err != nil {
				log.Warn("transfer failed", "remote", remote, "error", err)
			}
		}()
	}
}

func runDiscover(log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	hostName := fs.String("host-name", "", "name to advertise")
	transferPort := fs.Int("transfer-port", config.DefaultTransferPort, "transfer port to advertise")
	fs.Parse(args)

	if *hostName == "" {
		h, _ := os.Hostname()
		*hostName = h
	}

	dir := discovery.NewDirectory()
	listener := discovery.NewListener(dir, log)
	announcer := discovery.NewAnnouncer(*hostName, *transferPort, func() int { return 0 }, log)

	ctx, cancel := contextWithSignals()
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- listener.Run(ctx) }()
	go func() { errCh <- announcer.Run(ctx) }()

	go func() {
		ticker := time.NewTicker(discovery.AnnounceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, peer := range dir.Peers() {
					color.Cyan("peer %s (%s) at %s, transfer port %d", peer.HostName, peer.ID, peer.Address, peer.TransferPort)
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
	}
}

func runSwarmPull(log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("swarm-pull", flag.ExitOnError)
	peersFlag := fs.String("peers", "", "comma-separated host:port list of peers serving the file")
	remotePath := fs.String("remote-path", "", "relative path of the file, as served by BlockRequest")
	gameName := fs.String("name", "", "game name advertised in the BlockRequest header")
	size := fs.Int64("size", 0, "total size of the remote file in bytes")
	out := fs.String("out", "", "local path to write the assembled file to")
	fs.Parse(args)

	if *peersFlag == "" || *remotePath == "" || *size <= 0 || *out == "" {
		return fmt.Errorf("swarm-pull requires -peers, -remote-path, -size, and -out")
	}

	var peers []string
	for _, p := range strings.Split(*peersFlag, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	if len(peers) == 0 {
		return fmt.Errorf("swarm-pull: no usable peers in -peers")
	}

	jobs := swarm.CreateJobs(*size)
	coord := swarm.NewCoordinator(jobs)

	writer, err := swarm.NewRandomAccessWriter(*out, *size)
	if err != nil {
		return fmt.Errorf("swarm-pull: create output file: %w", err)
	}

	fetcher := &sender.PeerBlockFetcher{GameName: *gameName, RemotePath: *remotePath}
	general := swarm.NewGeneral(coord, writer, fetcher, peers, log)

	ctx, cancel := contextWithSignals()
	defer cancel()

	color.Cyan("pulling %s (%d bytes, %d blocks) from %d peers", *remotePath, *size, len(jobs), len(peers))

	runErr := general.Run(ctx)
	if closeErr := writer.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return fmt.Errorf("swarm-pull: %w", runErr)
	}

	color.Green("swarm pull complete: %s (%d bytes)", *out, *size)
	return nil
}
