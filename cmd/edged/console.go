package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/wippyai/edgecache/cache"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/memhost"
	"github.com/wippyai/edgecache/simplecache"
	"github.com/wippyai/edgecache/store/kv"
)

const (
	previewLen = 64
	kvUsage    = "kv get|put <store> <key> [value]"
)

// console runs the interactive cache commands against a host.
type console struct {
	host   *memhost.Host
	cache  *cache.Cache
	simple *simplecache.Cache
}

func newConsole(host *memhost.Host) *console {
	return &console{host: host, cache: cache.New(host), simple: simplecache.New(host)}
}

type command struct {
	usage string
	help  string
	args  int
	run   func(c *console, args []string) (string, error)
}

var commands = map[string]command{
	"lookup":  {"lookup <key>", "inspect a raw cache key", 1, (*console).lookup},
	"insert":  {"insert <key> <ttl> <value>", "write a raw cache object", 3, (*console).insert},
	"purge":   {"purge <surrogate-key> [soft]", "purge objects by surrogate key", 1, (*console).purge},
	"get":     {"get <key>", "read a simple cache value", 1, (*console).get},
	"set":     {"set <key> <ttl> <value>", "write a simple cache value", 3, (*console).set},
	"delete":  {"delete <key>", "delete a simple cache value", 1, (*console).del},
	"kv":      {kvUsage, "read or write a kv store", 3, (*console).kv},
	"objects": {"objects", "list cached objects", 0, (*console).objects},
}

// names lists the commands in display order.
var names = []string{"lookup", "insert", "purge", "get", "set", "delete", "kv", "objects"}

// exec runs one command line.
func (c *console) exec(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	if fields[0] == "help" {
		return help(), nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q, try help", fields[0])
	}
	args := fields[1:]
	if len(args) < cmd.args {
		return "", fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(c, args)
}

func help() string {
	var b strings.Builder
	for _, n := range names {
		cmd := commands[n]
		fmt.Fprintf(&b, "%-34s %s\n", cmd.usage, cmd.help)
	}
	return strings.TrimRight(b.String(), "\n")
}

// rest joins the trailing arguments into one value.
func rest(args []string, from int) string {
	return strings.Join(args[from:], " ")
}

func preview(data []byte) string {
	if len(data) > previewLen {
		return fmt.Sprintf("%q... (%d bytes)", data[:previewLen], len(data))
	}
	return fmt.Sprintf("%q", data)
}

func (c *console) lookup(args []string) (string, error) {
	e, err := c.cache.Lookup([]byte(args[0]), cache.LookupOptions{})
	if err != nil {
		return "", err
	}
	if e == nil {
		return "not found", nil
	}
	defer e.Close()

	st, err := e.State()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "state    %s\n", st)
	if age, err := e.Age(); err == nil {
		fmt.Fprintf(&b, "age      %s\n", age)
	}
	if ma, err := e.MaxAge(); err == nil {
		fmt.Fprintf(&b, "max-age  %s\n", ma)
	}
	if hits, err := e.Hits(); err == nil {
		fmt.Fprintf(&b, "hits     %d\n", hits)
	}
	if keys, err := e.SurrogateKeys(); err == nil && len(keys) > 0 {
		fmt.Fprintf(&b, "keys     %s\n", strings.Join(keys, " "))
	}
	bd, err := e.Body(cache.Range{})
	if err != nil {
		return "", err
	}
	if bd.Valid() {
		defer bd.Close()
		data, err := bd.ReadAll()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "body     %s", preview(data))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *console) insert(args []string) (string, error) {
	ttl, err := time.ParseDuration(args[1])
	if err != nil {
		return "", fmt.Errorf("ttl: %w", err)
	}
	value := []byte(rest(args, 2))
	w, err := c.cache.Insert([]byte(args[0]), cache.WriteOptions{
		MaxAge: ttl,
		Length: cache.Len(uint64(len(value))),
	})
	if err != nil {
		return "", err
	}
	if _, err := w.WriteAllBack(value); err != nil {
		w.Abandon()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("inserted %d bytes", len(value)), nil
}

func (c *console) purge(args []string) (string, error) {
	var mask hostcall.PurgeOptionsMask
	if len(args) > 1 && args[1] == "soft" {
		mask |= hostcall.PurgeSoft
	}
	if err := c.host.PurgeSurrogateKey(args[0], mask); err != nil {
		return "", err
	}
	return "purged " + args[0], nil
}

func (c *console) get(args []string) (string, error) {
	e, err := c.simple.Get(args[0])
	if err != nil {
		return "", err
	}
	if e == nil {
		return "not found", nil
	}
	return fmt.Sprintf("%s (age %s of %s)", preview(e.Body), e.Age, e.MaxAge), nil
}

func (c *console) set(args []string) (string, error) {
	ttl, err := time.ParseDuration(args[1])
	if err != nil {
		return "", fmt.Errorf("ttl: %w", err)
	}
	if err := c.simple.Set(args[0], []byte(rest(args, 2)), ttl); err != nil {
		return "", err
	}
	return "stored " + args[0], nil
}

func (c *console) del(args []string) (string, error) {
	if err := c.simple.Delete(args[0]); err != nil {
		return "", err
	}
	return "deleted " + args[0], nil
}

func (c *console) kv(args []string) (string, error) {
	st, err := kv.Open(c.host, args[1])
	if err != nil {
		return "", err
	}
	key := args[2]
	switch args[0] {
	case "get":
		e, err := st.Get(key)
		if err != nil {
			return "", err
		}
		if e == nil {
			return "not found", nil
		}
		data, err := e.Bytes()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (generation %d)", preview(data), e.Generation), nil
	case "put":
		if len(args) < 4 {
			return "", fmt.Errorf("usage: %s", kvUsage)
		}
		if err := st.Put(key, []byte(rest(args, 3)), kv.InsertOptions{}); err != nil {
			return "", err
		}
		return "stored " + key, nil
	default:
		return "", fmt.Errorf("usage: %s", kvUsage)
	}
}

func (c *console) objects(_ []string) (string, error) {
	objs := c.host.Objects()
	if len(objs) == 0 {
		return "cache is empty", nil
	}
	var b strings.Builder
	for _, o := range objs {
		state := "complete"
		if !o.Complete {
			state = "streaming"
		}
		fmt.Fprintf(&b, "%-24q %6d bytes  age %-8s max-age %-8s hits %-4d %s",
			o.Key, o.Size, o.Age.Round(time.Second), o.MaxAge, o.Hits, state)
		if len(o.SurrogateKeys) > 0 {
			fmt.Fprintf(&b, "  [%s]", strings.Join(o.SurrogateKeys, " "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
