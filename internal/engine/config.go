package engine

import (
	"strconv"

	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// ConfigFile is the engine configuration written into the instance directory.
const ConfigFile = "msmdsrv.ini"

// Config holds the engine settings this tool controls. Zero values are
// omitted from the configuration file.
type Config struct {
	DataDir         string
	TempDir         string
	LogDir          string
	BackupDir       string
	Port            int
	DeploymentMode  int
	Language        int
	PrivateProcess  int
	InstanceVisible bool
	MemoryLimit     int
	PagingPolicy    int
}

type configEntry struct {
	field string
	path  string
	value func(Config) string
}

func itoa(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// configEntries maps each Config field to its element in the configuration
// file, in document order.
var configEntries = []configEntry{
	{"DataDir", "ConfigurationSettings.DataDir", func(c Config) string { return c.DataDir }},
	{"TempDir", "ConfigurationSettings.TempDir", func(c Config) string { return c.TempDir }},
	{"LogDir", "ConfigurationSettings.LogDir", func(c Config) string { return c.LogDir }},
	{"BackupDir", "ConfigurationSettings.BackupDir", func(c Config) string { return c.BackupDir }},
	{"Port", "ConfigurationSettings.Port", func(c Config) string { return itoa(c.Port) }},
	{"DeploymentMode", "ConfigurationSettings.DeploymentMode", func(c Config) string { return itoa(c.DeploymentMode) }},
	{"Language", "ConfigurationSettings.Language", func(c Config) string { return itoa(c.Language) }},
	{"PrivateProcess", "ConfigurationSettings.PrivateProcess", func(c Config) string { return itoa(c.PrivateProcess) }},
	{"InstanceVisible", "ConfigurationSettings.InstanceVisible", func(c Config) string {
		if c.InstanceVisible {
			return "1"
		}
		return "0"
	}},
	{"MemoryLimit", "ConfigurationSettings.Memory.VertiPaqMemoryLimit", func(c Config) string { return itoa(c.MemoryLimit) }},
	{"PagingPolicy", "ConfigurationSettings.Memory.VertiPaqPagingPolicy", func(c Config) string { return itoa(c.PagingPolicy) }},
}

// Render produces the configuration file for c.
func (c Config) Render() ([]byte, error) {
	doc := &tree.Object{}
	for _, e := range configEntries {
		if v := e.value(c); v != "" {
			tree.Put(doc, e.path, tree.String(v))
		}
	}
	return convert.XML{}.Encode(doc)
}
