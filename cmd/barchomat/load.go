package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/jankrod/barchomat/internal/core"
	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/schema"
)

var (
	DumpFlag      bool
	AllFieldsFlag bool
)

var loadCmd = &cobra.Command{
	Use:   "load [file.pdu...]",
	Short: "Decode captured messages and check they re-encode identically",
	Args:  cobra.MinimumNArgs(1),
	RunE:  LoadCommand,
}

func LoadCommand(cmd *cobra.Command, args []string) error {
	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		return err
	}
	resolver, err := schema.Load(config.Protocol.SchemaFile)
	if err != nil {
		return err
	}
	factory := codec.NewFactory(resolver, codec.Options{
		MaxArrayLength: config.Protocol.MaxArrayLength,
		AllFields:      AllFieldsFlag || config.Protocol.CaptureAllFields,
	})

	for _, path := range args {
		if err := loadFile(cmd.OutOrStdout(), factory, path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func loadFile(w io.Writer, factory *codec.Factory, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	msg, err := factory.FromStream(f)
	if err != nil {
		return err
	}

	if DumpFlag {
		spew.Fdump(w, msg.Fields())
	} else {
		doc, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", doc)
	}

	payload, err := factory.Encode(msg)
	if err != nil {
		return fmt.Errorf("re-encoding %s: %w", msg.Type, err)
	}
	again, err := factory.Decode(msg.Type, payload)
	if err != nil {
		return fmt.Errorf("decoding re-encoded %s: %w", msg.Type, err)
	}
	if !again.Equal(msg) {
		return fmt.Errorf("%s did not survive re-encoding", msg.Type)
	}
	fmt.Fprintf(w, "%s: %s round trip ok (%d bytes)\n", path, msg.Type, len(payload))
	return nil
}
