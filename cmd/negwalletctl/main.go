// Command negwalletctl is the CLI client (component C8) for negwalletd: it
// dials the daemon's gRPC surface, attaches the admin macaroon, and renders
// responses as tables the way the teacher's lncli renders its RPC replies.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/urfave/cli"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/decred/negwallet/rpc"
)

func main() {
	app := cli.NewApp()
	app.Name = "negwalletctl"
	app.Usage = "control plane for negwalletd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:10321",
			Usage: "host:port of negwalletd's gRPC listener",
		},
		cli.StringFlag{
			Name:  "macaroonpath",
			Value: "",
			Usage: "path to the admin macaroon",
		},
	}
	app.Commands = []cli.Command{
		sendCommand,
		cancelCommand,
		statusCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dialClient(c *cli.Context) (rpc.NegotiatorClient, func(), error) {
	conn, err := grpc.Dial(c.GlobalString("rpcserver"), grpc.WithInsecure(), rpc.NewGobDialOption())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to negwalletd: %w", err)
	}
	return rpc.NewNegotiatorClient(conn), func() { conn.Close() }, nil
}

func authContext(c *cli.Context) (context.Context, error) {
	ctx := context.Background()

	path := c.GlobalString("macaroonpath")
	if path == "" {
		return ctx, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading macaroon: %w", err)
	}
	return metadata.AppendToOutgoingContext(ctx, "macaroon", string(raw)), nil
}

var sendCommand = cli.Command{
	Name:  "send",
	Usage: "start a new transaction negotiation",
	Flags: []cli.Flag{
		cli.Uint64Flag{Name: "amount", Usage: "amount to send"},
		cli.Uint64Flag{Name: "fee", Usage: "transaction fee"},
		cli.Uint64Flag{Name: "assetid", Usage: "asset id, 0 for the base asset"},
		cli.Uint64Flag{Name: "minheight", Usage: "minimum kernel height"},
		cli.Uint64Flag{Name: "lifetime", Usage: "negotiation lifetime, in blocks"},
		cli.StringFlag{Name: "peerid", Usage: "hex-encoded peer sbbs id"},
		cli.BoolFlag{Name: "self", Usage: "this is a self-send"},
	},
	Action: func(c *cli.Context) error {
		client, closeFn, err := dialClient(c)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, err := authContext(c)
		if err != nil {
			return err
		}

		req := &rpc.SendTxRequest{
			Amount:    c.Uint64("amount"),
			Fee:       c.Uint64("fee"),
			AssetID:   c.Uint64("assetid"),
			MinHeight: c.Uint64("minheight"),
			Lifetime:  c.Uint64("lifetime"),
			IsSelfTx:  c.Bool("self"),
		}
		if peerHex := c.String("peerid"); peerHex != "" {
			peerID, err := hex.DecodeString(peerHex)
			if err != nil {
				return fmt.Errorf("decoding peerid: %w", err)
			}
			req.PeerID = peerID
		}

		resp, err := client.SendTx(ctx, req)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"txid"})
		t.AppendRow(table.Row{hex.EncodeToString(resp.TxID[:])})
		t.Render()
		return nil
	},
}

var cancelCommand = cli.Command{
	Name:      "cancel",
	Usage:     "cancel an in-flight negotiation",
	ArgsUsage: "txid",
	Action: func(c *cli.Context) error {
		txID, err := parseTxID(c.Args().First())
		if err != nil {
			return err
		}

		client, closeFn, err := dialClient(c)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, err := authContext(c)
		if err != nil {
			return err
		}

		if _, err := client.CancelTx(ctx, &rpc.CancelTxRequest{TxID: txID}); err != nil {
			return err
		}
		fmt.Println("canceled")
		return nil
	},
}

var statusCommand = cli.Command{
	Name:      "status",
	Usage:     "report a negotiation's current state",
	ArgsUsage: "txid",
	Action: func(c *cli.Context) error {
		txID, err := parseTxID(c.Args().First())
		if err != nil {
			return err
		}

		client, closeFn, err := dialClient(c)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, err := authContext(c)
		if err != nil {
			return err
		}

		resp, err := client.GetStatus(ctx, &rpc.GetStatusRequest{TxID: txID})
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"state", "failure reason"})
		t.AppendRow(table.Row{resp.State, resp.FailureReason})
		t.Render()
		return nil
	},
}

func parseTxID(s string) ([16]byte, error) {
	var id [16]byte
	if s == "" {
		return id, fmt.Errorf("missing txid argument")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decoding txid: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("txid must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
