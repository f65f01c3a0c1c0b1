package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/pkg/apikey"
)

// HashKeyCommand prints the argon2id hash of an API key for the server
// config. Without an argument a new key is generated.
func HashKeyCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash-key",
		Usage:     "Hash an API key for server.http.api_key_hash",
		ArgsUsage: "[KEY|-]",
		Action: func(c *cli.Context) error {
			key := c.Args().First()
			generated := false
			switch key {
			case "":
				var err error
				if key, err = apikey.Generate(); err != nil {
					return err
				}
				generated = true
			case "-":
				var err error
				if key, err = readSecret("-"); err != nil {
					return err
				}
			}

			hash, err := apikey.Hash(key)
			if err != nil {
				return err
			}

			w := stdout(c)
			if generated {
				fmt.Fprintf(w, "key:  %s\n", key)
			}
			fmt.Fprintf(w, "hash: %s\n", hash)
			return nil
		},
	}
}
