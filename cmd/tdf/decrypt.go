// decrypt.go -- Decrypt command handling
//
// (c) 2016 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/opencoff/pflag"
	"github.com/opencoff/tdf"
)

func decrypt(args []string) {
	fs := flag.NewFlagSet("decrypt", flag.ExitOnError)
	fs.Usage = func() {
		decryptUsage(fs)
	}

	var outfile string
	var profileFn string
	var kasURL string
	var kasKey string
	var envpw string
	var nopw, force bool

	fs.StringVarP(&outfile, "outfile", "o", "", "Write the plaintext to file `F`")
	fs.StringVarP(&profileFn, "profile", "p", "", "Read the client profile from `P`")
	fs.StringVarP(&kasURL, "kas", "k", "", "Rewrap against the key-access entry for `URL`")
	fs.StringVarP(&kasKey, "kas-private-key", "K", "", "Unwrap locally with the KAS private key in `F` (offline)")
	fs.BoolVarP(&nopw, "no-password", "", false, "Don't ask for key passphrases")
	fs.StringVarP(&envpw, "env-password", "E", "", "Use passphrase from environment variable `E`")
	fs.BoolVarP(&force, "overwrite", "", false, "Overwrite the output file if it exists")

	err := fs.Parse(args)
	if err != nil {
		Die("%s", err)
	}

	args = fs.Args()
	if len(args) < 1 {
		Die("Insufficient args. Try '%s decrypt -h'", Z)
	}
	if len(outfile) == 0 {
		Die("No output file. Use '-o'")
	}

	cfg := tdf.DecryptConfig{
		KasURL: kasURL,
	}

	ctx := context.Background()

	// offline path: the caller holds the KAS private key
	if len(kasKey) > 0 {
		b, err := os.ReadFile(kasKey)
		if err != nil {
			Die("%s", err)
		}

		sk, err := tdf.ParseSigningKey(b, maybeGetPw(nopw, envpw, false))
		if err != nil {
			Die("%s", err)
		}
		cfg.KasPrivateKey = sk.Private()

		src, err := tdf.NewFileChunker(args[0])
		if err != nil {
			Die("%s", err)
		}
		defer src.Close()

		rd, err := tdf.OpenReader(ctx, src, cfg)
		if err != nil {
			Die("%s", err)
		}
		defer rd.Close()

		if err := writePlain(ctx, rd, outfile, force); err != nil {
			Die("%s", err)
		}
		return
	}

	if len(profileFn) == 0 {
		Die("Need a client profile or a KAS private key. Try '%s decrypt -h'", Z)
	}

	prof, err := readProfile(profileFn)
	if err != nil {
		Die("%s: %s", profileFn, err)
	}

	cl, err := prof.newClient(nopw, envpw)
	if err != nil {
		Die("%s", err)
	}

	if err := cl.DecryptFile(ctx, args[0], outfile, force, cfg); err != nil {
		Die("%s", err)
	}
}

// writePlain streams a reader's plaintext to outfile via the library
// safe-file path.
func writePlain(ctx context.Context, rd *tdf.Reader, outfile string, force bool) error {
	return tdf.DecryptToFile(ctx, rd, outfile, force)
}

func decryptUsage(fs *flag.FlagSet) {
	fmt.Printf(`%s decrypt: Decrypt a TDF container.

Usage: %s decrypt [options] -o outfile infile

With '-K', the container is opened offline using the KAS private key;
otherwise the payload key is recovered by a rewrap call against the
KAS named in the manifest (or selected with '-k').

Options:
`, Z, Z)

	fs.PrintDefaults()
	os.Exit(0)
}
