// encrypt.go -- Encrypt command handling
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

	"github.com/opencoff/go-utils"
	flag "github.com/opencoff/pflag"
	"github.com/opencoff/tdf"
)

func encrypt(args []string) {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	fs.Usage = func() {
		encryptUsage(fs)
	}

	var outfile string
	var profileFn string
	var szstr string = "1M"
	var mime string
	var envpw string
	var attrs, dissem []string
	var gmac, nopw, force bool

	fs.StringVarP(&outfile, "outfile", "o", "", "Write the container to file `F`")
	fs.StringVarP(&profileFn, "profile", "p", "", "Read the client profile from `P`")
	fs.StringVarP(&szstr, "segment-size", "B", szstr, "Use `S` as the plaintext segment size")
	fs.StringVarP(&mime, "mime-type", "m", "", "Record `M` as the payload mime type")
	fs.StringArrayVarP(&attrs, "attr", "a", nil, "Add data attribute `A` to the policy")
	fs.StringArrayVarP(&dissem, "dissem", "d", nil, "Add entity `E` to the dissemination list")
	fs.BoolVarP(&gmac, "gmac", "", false, "Use GMAC segment signatures instead of HMAC-SHA256")
	fs.BoolVarP(&nopw, "no-password", "", false, "Don't ask for the signing key passphrase")
	fs.StringVarP(&envpw, "env-password", "E", "", "Use passphrase from environment variable `E`")
	fs.BoolVarP(&force, "overwrite", "", false, "Overwrite the output file if it exists")

	err := fs.Parse(args)
	if err != nil {
		Die("%s", err)
	}

	args = fs.Args()
	if len(args) < 1 {
		Die("Insufficient args. Try '%s encrypt -h'", Z)
	}
	if len(profileFn) == 0 {
		Die("No client profile. Try '%s encrypt -h'", Z)
	}
	if len(outfile) == 0 {
		Die("No output file. Use '-o'")
	}

	segsz, err := utils.ParseSize(szstr)
	if err != nil {
		Die("%s", err)
	}

	prof, err := readProfile(profileFn)
	if err != nil {
		Die("%s: %s", profileFn, err)
	}

	targets, err := prof.targets()
	if err != nil {
		Die("%s", err)
	}

	policy := tdf.NewPolicy()
	for _, a := range attrs {
		policy.Body.DataAttributes = append(policy.Body.DataAttributes, tdf.Attribute{Attribute: a})
	}
	policy.Body.Dissem = append(policy.Body.Dissem, dissem...)

	alg := tdf.HS256
	if gmac {
		alg = tdf.GMAC
	}

	cfg := tdf.EncryptConfig{
		Targets:      targets,
		Policy:       policy,
		MimeType:     mime,
		SegmentSize:  int64(segsz),
		IntegrityAlg: alg,
	}

	cl, err := prof.newClient(nopw, envpw)
	if err != nil {
		Die("%s", err)
	}

	m, err := cl.EncryptFile(context.Background(), args[0], outfile, force, cfg)
	if err != nil {
		Die("%s", err)
	}

	nseg := len(m.EncryptionInformation.IntegrityInformation.Segments)
	Warn("wrote %s: %d segment(s)", outfile, nseg)
}

func encryptUsage(fs *flag.FlagSet) {
	fmt.Printf(`%s encrypt: Encrypt a file into a TDF container.

Usage: %s encrypt [options] -p profile -o outfile infile

The payload key is wrapped for every KAS named in the profile; KAS
public keys are fetched (and cached) unless the profile pins them.

Options:
`, Z, Z)

	fs.PrintDefaults()
	os.Exit(0)
}
