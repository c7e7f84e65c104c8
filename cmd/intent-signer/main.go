// Command intent-signer produces the borrow intent signatures checked by the
// lending engine. It holds the platform signer key in an encrypted keystore.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"nftlend/cmd/internal/passphrase"
	"nftlend/crypto"
	"nftlend/native/lending"
)

const (
	passphraseEnv  = "NFTLEND_SIGNER_PASSPHRASE"
	defaultChainID = 187001
)

// newPassphraseSource is replaced in tests.
var newPassphraseSource = func(confirm bool) *passphrase.Source {
	src := passphrase.NewSource(passphraseEnv, "signer keystore")
	src.Confirm = confirm
	return src
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "sign":
		return runSign(args[1:], stdin, stdout, stderr)
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: intent-signer <command> [flags]",
		"",
		"Commands:",
		"  sign     --keystore <file> --module <addr> [--intent <file>|-] [--chain-id <id>]",
		"  keygen   --out <file> [--light]",
		"  address  --keystore <file>",
		"",
		"The keystore passphrase is read from " + passphraseEnv + " or prompted for.",
	}, "\n")
}

// intentFile is the JSON document describing the intent to sign.
type intentFile struct {
	OfferID      uint64         `json:"offerId"`
	LoanAmount   string         `json:"loanAmount"`
	RepayAmount  string         `json:"repayAmount"`
	DurationDays uint64         `json:"durationDays"`
	Nonce        uint64         `json:"nonce"`
	Collection   crypto.Address `json:"collection"`
	TokenIDs     []uint16       `json:"tokenIds"`
}

type signOutput struct {
	Signer    crypto.Address `json:"signer"`
	Hash      string         `json:"hash"`
	Signature string         `json:"signature"`
}

func runSign(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keystorePath, intentPath, moduleAddr string
	var chainID uint64
	fs.StringVar(&keystorePath, "keystore", "", "path to the signer keystore")
	fs.StringVar(&intentPath, "intent", "-", "intent JSON file, - for stdin")
	fs.StringVar(&moduleAddr, "module", "", "lending module address the intent is bound to")
	fs.Uint64Var(&chainID, "chain-id", defaultChainID, "chain id the intent is bound to")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(keystorePath) == "" {
		fmt.Fprintln(stderr, "Error: --keystore is required")
		return 1
	}
	module, err := crypto.DecodeAddress(moduleAddr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: --module: %v\n", err)
		return 1
	}

	msg, err := readIntent(intentPath, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	msg.Module = module
	msg.ChainID = new(big.Int).SetUint64(chainID)

	key, err := loadKey(keystorePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	hash, err := msg.Hash()
	if err != nil {
		fmt.Fprintf(stderr, "Error: hash intent: %v\n", err)
		return 1
	}
	sig, err := lending.SignIntent(key, msg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: sign intent: %v\n", err)
		return 1
	}
	return writeJSON(stdout, stderr, signOutput{
		Signer:    key.PubKey().Address(),
		Hash:      hexutil.Encode(hash),
		Signature: hexutil.Encode(sig),
	})
}

func readIntent(path string, stdin io.Reader) (lending.IntentMessage, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return lending.IntentMessage{}, fmt.Errorf("read intent: %w", err)
	}
	var file intentFile
	if err := json.Unmarshal(data, &file); err != nil {
		return lending.IntentMessage{}, fmt.Errorf("decode intent: %w", err)
	}
	loanAmount, ok := new(big.Int).SetString(strings.TrimSpace(file.LoanAmount), 10)
	if !ok {
		return lending.IntentMessage{}, fmt.Errorf("invalid loanAmount %q", file.LoanAmount)
	}
	repayAmount, ok := new(big.Int).SetString(strings.TrimSpace(file.RepayAmount), 10)
	if !ok {
		return lending.IntentMessage{}, fmt.Errorf("invalid repayAmount %q", file.RepayAmount)
	}
	if file.Collection.IsZero() {
		return lending.IntentMessage{}, fmt.Errorf("collection is required")
	}
	packed, err := lending.PackTokenIDs(file.TokenIDs)
	if err != nil {
		return lending.IntentMessage{}, fmt.Errorf("token ids: %w", err)
	}
	return lending.IntentMessage{
		Intent: lending.BorrowIntent{
			OfferID:      file.OfferID,
			LoanAmount:   loanAmount,
			RepayAmount:  repayAmount,
			DurationDays: file.DurationDays,
			Nonce:        file.Nonce,
		},
		Collection: file.Collection,
		TokenIDs:   packed,
	}, nil
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var out string
	var light bool
	fs.StringVar(&out, "out", "", "path of the keystore file to write")
	fs.BoolVar(&light, "light", false, "use light scrypt parameters")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	if _, err := os.Stat(out); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", out)
		return 1
	}
	pass, err := newPassphraseSource(true).Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(out, key, pass, light); err != nil {
		fmt.Fprintf(stderr, "Error: write keystore: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keystorePath string
	fs.StringVar(&keystorePath, "keystore", "", "path to the signer keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(keystorePath) == "" {
		fmt.Fprintln(stderr, "Error: --keystore is required")
		return 1
	}
	key, err := loadKey(keystorePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(stdout, "%s %s\n", addr.String(), addr.Hex())
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	pass, err := newPassphraseSource(false).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	return key, nil
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: encode output: %v\n", err)
		return 1
	}
	return 0
}
