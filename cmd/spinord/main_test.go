package main

import (
	"testing"

	"github.com/BertoldVdb/spinor/transport"
	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
)

func TestOpenChip(t *testing.T) {
	tests := []struct {
		device string
		chip   string
		want   string
	}{
		{"emulate:SST25VF032B", "", "SST25VF032B"},
		{"emulate:W25Q128FV", "w25q128fv", "W25Q128FV"},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			logger := log.NewTestLogger(t)
			dev, err := transport.Open(tt.device, logger)
			assert.NoError(t, err)
			defer dev.Close()

			chip, err := openChip(dev, tt.chip, logger)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, chip.Info().Name)
			assert.NoError(t, chip.Close())
		})
	}

	dev, err := transport.Open("emulate:W25Q128FV", nil)
	assert.NoError(t, err)
	_, err = openChip(dev, "NOPE", createLogger(false, true))
	assert.Error(t, err)
}
