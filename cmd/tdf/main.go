// main.go -- Tool to encrypt, decrypt and inspect TDF objects
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
	"fmt"
	"os"
	"path"

	flag "github.com/opencoff/pflag"
)

// This will be filled in by "build"
var Version string = "1.0"

var Z string = path.Base(os.Args[0])

func main() {
	var ver, help bool

	mf := flag.NewFlagSet(Z, flag.ExitOnError)
	mf.SetInterspersed(false)
	mf.BoolVarP(&ver, "version", "v", false, "Show version info and exit")
	mf.BoolVarP(&help, "help", "h", false, "Show help info exit")
	mf.Parse(os.Args[1:])

	if ver {
		fmt.Printf("%s - %s\n", Z, Version)
		if bi, ok := ReadBuildInfo(); ok {
			fmt.Printf("%s\n", bi.String())
		}
		Exit(0)
	}

	if help {
		usage(0)
	}

	args := mf.Args()
	if len(args) < 1 {
		Die("Insufficient arguments. Try '%s -h'", Z)
	}

	cmd, args := args[0], args[1:]

	switch cmd {
	case "encrypt", "enc", "e":
		encrypt(args)

	case "decrypt", "dec", "d":
		decrypt(args)

	case "info", "i":
		info(args)

	case "keygen", "gen", "g":
		keygen(args)

	default:
		Die("unknown command %q. Try '%s -h'", cmd, Z)
	}

	Exit(0)
}

func usage(c int) {
	fmt.Printf(`%s - encrypt, decrypt and inspect TDF objects

Usage: %s [global-options] command [options] args...

Commands:
  encrypt, enc, e     Encrypt a file into a TDF container
  decrypt, dec, d     Decrypt a TDF container
  info, i             Print a container's manifest summary
  keygen, gen, g      Generate a session RSA keypair

Use '%s command -h' for command specific help.

Global options:
  -h, --help          Show this help and exit
  -v, --version       Show version info and exit
`, Z, Z, Z)
	os.Exit(c)
}

func exists(fn string) bool {
	_, err := os.Stat(fn)
	return err == nil
}

// maybeGetPw returns a passphrase reader: nil if no password wanted,
// otherwise one that reads the named environment variable or prompts
// on the terminal.
func maybeGetPw(nopw bool, envpw string, repeat bool) func() ([]byte, error) {
	if nopw {
		return nil
	}

	if len(envpw) > 0 {
		return func() ([]byte, error) {
			pw := os.Getenv(envpw)
			if len(pw) == 0 {
				return nil, fmt.Errorf("env var %s is empty", envpw)
			}
			return []byte(pw), nil
		}
	}

	return func() ([]byte, error) {
		return askPass(repeat)
	}
}
