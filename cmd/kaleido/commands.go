package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/freighter"
	"github.com/lightninglabs/kaleido/proof"
	"github.com/urfave/cli"
	"go.uber.org/multierr"
)

const (
	// Environment variables that can be used to set the global flags.
	envVarKaleidoDir = "KALEIDO_DIR"
	envVarNetwork    = "KALEIDO_NETWORK"
	envVarBifrost    = "KALEIDO_BIFROST"

	titleName            = "title"
	supplyName           = "supply"
	issuanceUtxoName     = "issuance_utxo"
	initialOwnerUtxoName = "initial_owner_utxo"
	jsonName             = "json"
)

// newApp creates the cli app. Commands open their session through connect
// and write their results to out.
func newApp(connect connectFunc, out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "kaleido"
	app.Version = kaleido.Version()
	app.Usage = "issue and transfer client-side validated assets on " +
		"bitcoin"
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "kaleidodir",
			Usage:  "The path to kaleido's base directory.",
			EnvVar: envVarKaleidoDir,
		},
		cli.StringFlag{
			Name:  "configfile",
			Usage: "The path to kaleido's config file.",
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The bitcoin network to operate on: main, test, " +
				"regtest or signet.",
			EnvVar: envVarNetwork,
		},
		cli.StringFlag{
			Name:   "bifrost",
			Usage:  "The host:port of the Bifrost proof relay.",
			EnvVar: envVarBifrost,
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "The logging level of all subsystems.",
		},
	}

	c := &commander{
		connect: connect,
		out:     out,
	}
	app.Commands = []cli.Command{{
		Name:  "issueasset",
		Usage: "issue a new asset",
		Description: "Issue a new asset, spending two outputs that " +
			"carry no assets. The whole supply is assigned to a " +
			"new output of the wallet.",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  titleName,
				Usage: "the title of the asset",
			},
			cli.Uint64Flag{
				Name:  supplyName,
				Usage: "the total supply of the asset",
			},
			cli.StringFlag{
				Name: issuanceUtxoName,
				Usage: "the issuance output as txid:vout, picked " +
					"from the wallet if unset",
			},
			cli.StringFlag{
				Name: initialOwnerUtxoName,
				Usage: "the initial owner output as txid:vout, " +
					"picked from the wallet if unset",
			},
		},
		Action: c.issueAsset,
	}, {
		Name:      "sendtoaddress",
		Usage:     "send an amount of an asset",
		ArgsUsage: "address[@server] asset_id amount",
		Description: "Send an amount of an asset to an address. If " +
			"the address names a relay server, the proof is " +
			"published there.",
		Action: c.sendToAddress,
	}, {
		Name:      "burn",
		Usage:     "destroy an amount of an asset",
		ArgsUsage: "asset_id amount",
		Action:    c.burn,
	}, {
		Name:  "listunspent",
		Usage: "list the wallet's outputs and the assets they carry",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  jsonName,
				Usage: "print json instead of a table",
			},
		},
		Action: c.listUnspent,
	}, {
		Name: "sync",
		Usage: "exchange proofs of the wallet's outputs with the " +
			"relay",
		Action: c.sync,
	}, {
		Name:   "getnewaddress",
		Usage:  "print a new address to receive assets on",
		Action: c.getNewAddress,
	}, {
		Name:      "deserialize",
		Usage:     "print the contents of a proof file",
		ArgsUsage: "path",
		Description: "Decode and validate a proof file and print it " +
			"as json. Ancestors and the anchor transaction aren't " +
			"checked.",
		Action: c.deserialize,
	}}

	return app
}

// commander runs the commands.
type commander struct {
	connect connectFunc
	out     io.Writer
}

// run opens a session, runs f and closes the session again.
func (c *commander) run(ctx *cli.Context,
	f func(s *session) error) (err error) {

	s, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.close())
	}()

	return f(s)
}

func (c *commander) printJSON(resp interface{}) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	_ = json.Indent(&out, b, "", "\t")
	out.WriteString("\n")
	_, err = out.WriteTo(c.out)

	return err
}

// parseOutPoint parses a txid:vout string.
func parseOutPoint(s string) (*wire.OutPoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("outpoint %q not in txid:vout form", s)
	}

	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid txid %q: %w", parts[0], err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid output index %q: %w", parts[1],
			err)
	}

	return wire.NewOutPoint(hash, uint32(index)), nil
}

// parseAssetAmount parses the asset_id and amount arguments.
func parseAssetAmount(idStr, amtStr string) (asset.ID, uint64, error) {
	id, err := asset.NewIDFromString(idStr)
	if err != nil {
		return id, 0, fmt.Errorf("invalid asset id: %w", err)
	}

	amt, err := strconv.ParseUint(amtStr, 10, 64)
	if err != nil {
		return id, 0, fmt.Errorf("invalid amount %q: %w", amtStr, err)
	}

	return id, amt, nil
}

// parcelResult is the output of issueasset, sendtoaddress and burn.
type parcelResult struct {
	AssetID     string `json:"asset_id"`
	Txid        string `json:"txid"`
	Title       string `json:"title,omitempty"`
	Supply      uint64 `json:"supply,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	Burned      uint64 `json:"burned,omitempty"`
	FeeSat      int64  `json:"fee_sat"`
	ProofDigest string `json:"proof_digest"`
	Published   bool   `json:"published"`
}

func newParcelResult(out *freighter.OutboundParcel) *parcelResult {
	result := &parcelResult{
		AssetID:     out.AssetID.String(),
		Txid:        out.Txid.String(),
		FeeSat:      int64(out.Fee),
		ProofDigest: out.Proof.Digest().String(),
		Published:   out.Published,
	}
	if out.Contract != nil {
		result.Title = out.Contract.Title
		result.Supply = out.Contract.TotalSupply
	}

	return result
}

// printParcel prints the outcome of a shipment. A parcel returned with an
// error was broadcast but not published.
func (c *commander) printParcel(out *freighter.OutboundParcel, shipErr error,
	decorate func(*parcelResult)) error {

	if out == nil {
		return shipErr
	}

	result := newParcelResult(out)
	if decorate != nil {
		decorate(result)
	}
	if err := c.printJSON(result); err != nil {
		return err
	}

	if shipErr != nil {
		return fmt.Errorf("transaction %v was broadcast but the proof "+
			"wasn't published, run sync to retry: %w", out.Txid,
			shipErr)
	}

	return nil
}

func (c *commander) issueAsset(ctx *cli.Context) error {
	title := ctx.String(titleName)
	supply := ctx.Uint64(supplyName)
	if title == "" || supply == 0 {
		_ = cli.ShowCommandHelp(ctx, "issueasset")
		return fmt.Errorf("--%s and --%s are required", titleName,
			supplyName)
	}

	var issuanceUtxo, initialOwnerUtxo *wire.OutPoint
	if s := ctx.String(issuanceUtxoName); s != "" {
		op, err := parseOutPoint(s)
		if err != nil {
			return err
		}
		issuanceUtxo = op
	}
	if s := ctx.String(initialOwnerUtxoName); s != "" {
		op, err := parseOutPoint(s)
		if err != nil {
			return err
		}
		initialOwnerUtxo = op
	}

	return c.run(ctx, func(s *session) error {
		out, err := s.server.IssueAsset(
			s.ctx, title, supply, issuanceUtxo, initialOwnerUtxo,
		)
		return c.printParcel(out, err, nil)
	})
}

func (c *commander) sendToAddress(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		_ = cli.ShowCommandHelp(ctx, "sendtoaddress")
		return fmt.Errorf("expected 3 arguments, got %d", ctx.NArg())
	}

	args := ctx.Args()
	recipient := args.Get(0)
	id, amt, err := parseAssetAmount(args.Get(1), args.Get(2))
	if err != nil {
		return err
	}

	return c.run(ctx, func(s *session) error {
		out, err := s.server.SendToAddress(s.ctx, recipient, id, amt)
		return c.printParcel(out, err, func(r *parcelResult) {
			r.Recipient = recipient
			r.Amount = amt
		})
	})
}

func (c *commander) burn(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		_ = cli.ShowCommandHelp(ctx, "burn")
		return fmt.Errorf("expected 2 arguments, got %d", ctx.NArg())
	}

	args := ctx.Args()
	id, amt, err := parseAssetAmount(args.Get(0), args.Get(1))
	if err != nil {
		return err
	}

	return c.run(ctx, func(s *session) error {
		out, err := s.server.Burn(s.ctx, id, amt)

		// The burned total is read back from the proof store.
		var burned uint64
		if out != nil {
			totals, burnErr := s.server.Burned(s.ctx, out.Txid)
			err = multierr.Append(err, burnErr)
			burned = totals[id]
		}

		return c.printParcel(out, err, func(r *parcelResult) {
			r.Amount = amt
			r.Burned = burned
		})
	})
}

type holdingResult struct {
	AssetID string `json:"asset_id"`
	Title   string `json:"title,omitempty"`
	Amount  uint64 `json:"amount"`
}

type utxoResult struct {
	OutPoint  string          `json:"outpoint"`
	AmountSat int64           `json:"amount_sat"`
	State     string          `json:"state"`
	Error     string          `json:"error,omitempty"`
	Assets    []holdingResult `json:"assets"`
}

func newUtxoResult(output *kaleido.UnspentOutput) utxoResult {
	result := utxoResult{
		OutPoint:  output.OutPoint.String(),
		AmountSat: int64(output.Amount),
		State:     output.State.String(),
		Assets:    []holdingResult{},
	}
	if output.Err != nil {
		result.Error = output.Err.Error()
	}
	for _, holding := range output.Assets {
		result.Assets = append(result.Assets, holdingResult{
			AssetID: holding.AssetID.String(),
			Title:   holding.Title,
			Amount:  holding.Amount,
		})
	}

	return result
}

func (c *commander) listUnspent(ctx *cli.Context) error {
	return c.run(ctx, func(s *session) error {
		outputs, err := s.server.ListUnspent(s.ctx)
		if err != nil {
			return err
		}

		results := make([]utxoResult, 0, len(outputs))
		for i := range outputs {
			results = append(results, newUtxoResult(&outputs[i]))
		}

		if ctx.Bool(jsonName) {
			return c.printJSON(results)
		}
		return c.printUtxoTable(results)
	})
}

// printUtxoTable prints one line per output and asset.
func (c *commander) printUtxoTable(results []utxoResult) error {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OUTPOINT\tSATS\tASSET ID\tTITLE\tAMOUNT\tSTATE")

	for _, r := range results {
		state := r.State
		if r.Error != "" {
			state = fmt.Sprintf("%s (%s)", r.State, r.Error)
		}

		if len(r.Assets) == 0 {
			fmt.Fprintf(w, "%s\t%d\t-\t-\t-\t%s\n", r.OutPoint,
				r.AmountSat, state)
			continue
		}
		for _, a := range r.Assets {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n", r.OutPoint,
				r.AmountSat, a.AssetID, a.Title, a.Amount, state)
		}
	}

	return w.Flush()
}

type syncResult struct {
	Uploaded   int `json:"uploaded"`
	Downloaded int `json:"downloaded"`
	Known      int `json:"known"`
	Rejected   int `json:"rejected"`
}

func (c *commander) sync(ctx *cli.Context) error {
	return c.run(ctx, func(s *session) error {
		summary, err := s.server.Sync(s.ctx)
		if err != nil {
			return err
		}

		return c.printJSON(&syncResult{
			Uploaded:   summary.Uploaded,
			Downloaded: summary.Downloaded,
			Known:      summary.Known,
			Rejected:   summary.Rejected,
		})
	})
}

func (c *commander) getNewAddress(ctx *cli.Context) error {
	return c.run(ctx, func(s *session) error {
		recipient, err := s.server.GetNewAddress(s.ctx)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(c.out, recipient.String())
		return err
	})
}

type entryResult struct {
	AssetID string `json:"asset_id"`
	Amount  uint64 `json:"amount"`
	Seal    string `json:"seal"`
}

type contractResult struct {
	AssetID          string `json:"asset_id"`
	Title            string `json:"title"`
	Supply           uint64 `json:"supply"`
	Network          string `json:"network"`
	IssuanceUtxo     string `json:"issuance_utxo"`
	InitialOwnerUtxo string `json:"initial_owner_utxo"`
}

type proofResult struct {
	Digest     string          `json:"digest"`
	AnchorTxid string          `json:"anchor_txid"`
	Inputs     []string        `json:"inputs"`
	Outputs    []entryResult   `json:"outputs"`
	Contract   *contractResult `json:"contract,omitempty"`
}

func newProofResult(p *proof.Proof) *proofResult {
	result := &proofResult{
		Digest:     p.Digest().String(),
		AnchorTxid: p.AnchorTxid.String(),
		Inputs:     make([]string, 0, len(p.Inputs)),
		Outputs:    make([]entryResult, 0, len(p.Outputs)),
	}
	for _, in := range p.Inputs {
		result.Inputs = append(result.Inputs, in.String())
	}
	for _, entry := range p.Outputs {
		result.Outputs = append(result.Outputs, entryResult{
			AssetID: entry.AssetID.String(),
			Amount:  entry.Amount,
			Seal:    entry.Seal.String(),
		})
	}

	if c := p.Contract; c != nil {
		result.Contract = &contractResult{
			AssetID:          c.AssetID().String(),
			Title:            c.Title,
			Supply:           c.TotalSupply,
			Network:          c.Network.String(),
			IssuanceUtxo:     c.IssuanceUtxo.String(),
			InitialOwnerUtxo: c.InitialOwnerUtxo.String(),
		}
	}

	return result
}

// deserialize works on the file alone, no session is opened.
func (c *commander) deserialize(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		_ = cli.ShowCommandHelp(ctx, "deserialize")
		return fmt.Errorf("expected 1 argument, got %d", ctx.NArg())
	}

	path := ctx.Args().First()
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read proof file: %w", err)
	}

	p, err := proof.Decode(b)
	if err != nil {
		return fmt.Errorf("unable to decode proof %v: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid proof %v: %w", path, err)
	}

	return c.printJSON(newProofResult(p))
}
