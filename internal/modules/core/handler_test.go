package core

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transferABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	}
]`

func transferParser(t *testing.T) (*EventParser, *abi.ABI) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(transferABIJSON))
	require.NoError(t, err)

	parser := NewEventParser()
	parser.AddContract(common.HexToAddress("0x71"), &parsed)
	return parser, &parsed
}

func TestParseEventIndexedAndData(t *testing.T) {
	parser, transferABI := transferParser(t)

	ev := transferABI.Events["Transfer"]
	from := common.HexToAddress("0xA1")
	to := common.HexToAddress("0xA2")
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(12345))
	require.NoError(t, err)

	log := &types.Log{
		Address: common.HexToAddress("0x71"),
		Topics: []common.Hash{
			ev.ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        data,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0x01"),
		Index:       3,
	}

	parsedEvent, err := parser.ParseEvent(log)
	require.NoError(t, err)

	assert.Equal(t, "Transfer", parsedEvent.EventName)
	assert.Equal(t, uint64(42), parsedEvent.BlockNumber)
	assert.Equal(t, uint(3), parsedEvent.LogIndex)
	assert.Equal(t, from, parsedEvent.Args["from"])
	assert.Equal(t, to, parsedEvent.Args["to"])

	value, ok := parsedEvent.Args["value"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, "12345", value.String())
}

func TestParseEventUnknownTopic(t *testing.T) {
	parser, _ := transferParser(t)

	log := &types.Log{
		Topics: []common.Hash{common.HexToHash("0xdead")},
	}
	_, err := parser.ParseEvent(log)
	require.Error(t, err)

	var unknownErr ErrUnknownEvent
	assert.ErrorAs(t, err, &unknownErr)
}

func TestParseEventNoTopics(t *testing.T) {
	parser, _ := transferParser(t)

	_, err := parser.ParseEvent(&types.Log{})
	require.Error(t, err)

	var invalidErr ErrInvalidEvent
	assert.ErrorAs(t, err, &invalidErr)
}

func TestParseEventMalformedData(t *testing.T) {
	parser, transferABI := transferParser(t)

	ev := transferABI.Events["Transfer"]
	log := &types.Log{
		Topics: []common.Hash{
			ev.ID,
			common.BytesToHash(common.HexToAddress("0xA1").Bytes()),
			common.BytesToHash(common.HexToAddress("0xA2").Bytes()),
		},
		Data: []byte{0x01, 0x02},
	}

	_, err := parser.ParseEvent(log)
	require.Error(t, err)

	var parsingErr ErrEventParsing
	assert.ErrorAs(t, err, &parsingErr)
}

func TestValidateManifest(t *testing.T) {
	valid := func() *Manifest {
		return &Manifest{
			Name:    "verse",
			Version: "1.0.0",
			DataSources: []DataSource{
				{
					Kind:   "ethereum/contract",
					Name:   "PairFactory",
					Source: DataSourceSource{ABI: "PairFactory"},
					Mapping: DataSourceMapping{
						Kind:          "ethereum/events",
						Entities:      []string{"Factory"},
						EventHandlers: []EventHandler{{Event: "PairCreated(indexed address,indexed address,address)", Handler: "handlePairCreated"}},
					},
				},
			},
		}
	}

	require.NoError(t, valid().ValidateManifest())

	m := valid()
	m.Name = ""
	assert.Error(t, m.ValidateManifest())

	m = valid()
	m.Version = ""
	assert.Error(t, m.ValidateManifest())

	m = valid()
	m.DataSources = nil
	assert.Error(t, m.ValidateManifest())

	m = valid()
	m.DataSources[0].Source.ABI = ""
	err := m.ValidateManifest()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataSources[0]")

	m = valid()
	m.DataSources[0].Mapping.EventHandlers = nil
	assert.Error(t, m.ValidateManifest())
}
