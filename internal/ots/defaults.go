package ots

// DefaultCalendars is the default calendar set seeded in configuration;
// the core never requires this particular set.
var DefaultCalendars = []string{
	"https://a.pool.opentimestamps.org",
	"https://b.pool.opentimestamps.org",
	"https://a.pool.eternitywall.com",
	"https://ots.btc.catallaxy.com",
}

// DefaultBlockExplorerURL is the default Esplora-compatible block explorer.
const DefaultBlockExplorerURL = "https://blockstream.info/api"
