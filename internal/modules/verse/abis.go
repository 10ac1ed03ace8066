package verse

// Event ABIs for the pair factory and the exchange contracts it deploys.
// Topic hashes are derived from the parsed ABIs at construction time rather
// than hard-coded.

const factoryABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "exchangeAddress", "type": "address"},
			{"indexed": true, "name": "cryptomediaAddress", "type": "address"},
			{"indexed": false, "name": "creator", "type": "address"}
		],
		"name": "PairCreated",
		"type": "event"
	}
]`

const exchangeABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "buyer", "type": "address"},
			{"indexed": false, "name": "tokens", "type": "uint256"},
			{"indexed": false, "name": "price", "type": "uint256"}
		],
		"name": "Buy",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "seller", "type": "address"},
			{"indexed": false, "name": "tokens", "type": "uint256"},
			{"indexed": false, "name": "eth", "type": "uint256"}
		],
		"name": "Sell",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "redeemer", "type": "address"}
		],
		"name": "Redeem",
		"type": "event"
	}
]`
