// Package tracker is a thin typed wrapper around the tracker RPC verbs:
// list, get_paths, create_open, create_close, delete, rename, file_info,
// update_class, get_devices. Each tracker is addressed as an HTTP RPC
// endpoint (one request per verb, form-encoded request, url.Values-shaped
// response) reusing the pooled, circuit-broken transport.Client the rest of
// the mount shares for storage-node I/O.
package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/objectfs/objectfs-fuse/internal/transport"
	"github.com/objectfs/objectfs-fuse/pkg/errors"
)

// PathEntry is one directory listing entry, as returned by list(dir).
type PathEntry struct {
	Name        string
	Size        int64
	Modified    time.Time
	IsDirectory bool
}

// Destination is the allocation returned by create_open.
type Destination struct {
	FID   uint64
	DevID int
	URL   string
}

// Device is one storage device record from get_devices.
type Device struct {
	ID            int
	Status        string // e.g. "alive"
	ObservedState string // e.g. "writeable"
	MBTotal       int64
	MBFree        int64
}

// FileInfo is the metadata returned by file_info.
type FileInfo struct {
	Key      string
	Class    string
	Checksum string
	Size     int64
	Devices  []Device
}

// CloseArgs carries everything create_close needs to commit (or discard) a
// newly written object.
type CloseArgs struct {
	FID            uint64
	DevID          int
	Domain         string
	Key            string // empty means discard the temporary object
	Path           string // dest.url
	Size           int64
	Mtime          time.Time
	Checksum       string // "<KIND>:<hex>", empty if checksums disabled
	ChecksumVerify bool
}

// Client is the tracker RPC adapter. It round-robins across the configured
// tracker addresses on each call so a single unreachable tracker does not
// stall the mount.
type Client struct {
	addrs      []string
	domain     string
	class      string
	httpClient *transport.Client
	next       uint64
}

// New builds a tracker Client addressing the given "host:port" tracker
// endpoints for domain, using class as the default storage class for new
// objects (empty means the tracker's server-side default).
func New(addrs []string, domain, class string, httpClient *transport.Client) *Client {
	return &Client{addrs: addrs, domain: domain, class: class, httpClient: httpClient}
}

func (c *Client) nextAddr() string {
	n := atomic.AddUint64(&c.next, 1)
	return c.addrs[int(n-1)%len(c.addrs)]
}

func (c *Client) endpoint(verb string) string {
	return fmt.Sprintf("http://%s/tracker/%s", c.nextAddr(), verb)
}

func (c *Client) call(ctx context.Context, verb string, params url.Values) (url.Values, error) {
	if len(c.addrs) == 0 {
		return nil, errors.NewError(errors.ErrCodeTrackerNoDevices, "no trackers configured").
			WithComponent("tracker").WithOperation(verb)
	}

	body := []byte(params.Encode())
	headers := http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}}

	resp, err := c.httpClient.Request(ctx, http.MethodPost, c.endpoint(verb), headers, body)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeTrackerRPC, "tracker RPC failed").
			WithComponent("tracker").WithOperation(verb).WithCause(err)
	}
	if resp.Status != http.StatusOK {
		return nil, errors.NewError(errors.ErrCodeTrackerRPC,
			fmt.Sprintf("tracker returned status %d", resp.Status)).
			WithComponent("tracker").WithOperation(verb)
	}

	values, err := url.ParseQuery(string(resp.Body))
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeTrackerRPC, "malformed tracker response").
			WithComponent("tracker").WithOperation(verb).WithCause(err)
	}
	if errCode := values.Get("errcode"); errCode != "" {
		return nil, errors.NewError(errors.ErrCodeTrackerRPC,
			fmt.Sprintf("tracker error %s: %s", errCode, values.Get("errstr"))).
			WithComponent("tracker").WithOperation(verb)
	}
	return values, nil
}

// List returns the directory entries under dir.
func (c *Client) List(ctx context.Context, dir string) ([]PathEntry, error) {
	values, err := c.call(ctx, "list", url.Values{
		"domain": {c.domain},
		"dir":    {dir},
	})
	if err != nil {
		return nil, err
	}

	count, _ := strconv.Atoi(values.Get("entry_count"))
	entries := make([]PathEntry, 0, count)
	for i := 0; i < count; i++ {
		prefix := fmt.Sprintf("entry_%d_", i)
		size, _ := strconv.ParseInt(values.Get(prefix+"size"), 10, 64)
		modUnix, _ := strconv.ParseInt(values.Get(prefix+"modified"), 10, 64)
		entries = append(entries, PathEntry{
			Name:        values.Get(prefix + "name"),
			Size:        size,
			Modified:    time.Unix(modUnix, 0),
			IsDirectory: values.Get(prefix+"is_directory") == "1",
		})
	}
	return entries, nil
}

// GetPaths returns the ordered storage-node URLs an existing key resolves
// to. An empty, non-error result signals "no such entry" to the caller.
func (c *Client) GetPaths(ctx context.Context, key string) ([]string, error) {
	values, err := c.call(ctx, "get_paths", url.Values{
		"domain": {c.domain},
		"key":    {key},
	})
	if err != nil {
		return nil, err
	}

	count, _ := strconv.Atoi(values.Get("paths"))
	paths := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		if p := values.Get(fmt.Sprintf("path%d", i)); p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// CreateOpen allocates a new destination object for key, under the
// configured domain and (if set) default class.
func (c *Client) CreateOpen(ctx context.Context, key string) (*Destination, error) {
	class := c.class
	values, err := c.call(ctx, "create_open", url.Values{
		"domain": {c.domain},
		"class":  {class},
		"key":    {key},
		"fid":    {"0"},
		"multi_dest": {"0"},
	})
	if err != nil {
		return nil, err
	}

	fid, _ := strconv.ParseUint(values.Get("fid"), 10, 64)
	devid, _ := strconv.Atoi(values.Get("devid"))
	return &Destination{FID: fid, DevID: devid, URL: values.Get("path")}, nil
}

// CreateClose commits (or, if args.Key is empty, discards) the object
// identified by args.FID/args.DevID.
func (c *Client) CreateClose(ctx context.Context, args CloseArgs) error {
	params := url.Values{
		"fid":                {strconv.FormatUint(args.FID, 10)},
		"devid":              {strconv.Itoa(args.DevID)},
		"domain":             {args.Domain},
		"key":                {args.Key},
		"path":               {args.Path},
		"size":               {strconv.FormatInt(args.Size, 10)},
		"plugin.meta.keys":   {"1"},
		"plugin.meta.key0":   {"mtime"},
		"plugin.meta.value0": {strconv.FormatInt(args.Mtime.Unix(), 10)},
	}
	if args.Checksum != "" {
		params.Set("checksum", args.Checksum)
		if args.ChecksumVerify {
			params.Set("checksumverify", "1")
		}
	}
	_, err := c.call(ctx, "create_close", params)
	return err
}

// Delete removes key from the domain.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.call(ctx, "delete", url.Values{"domain": {c.domain}, "key": {key}})
	return err
}

// Rename moves oldKey to newKey within the domain.
func (c *Client) Rename(ctx context.Context, oldKey, newKey string) error {
	_, err := c.call(ctx, "rename", url.Values{
		"domain":   {c.domain},
		"from_key": {oldKey},
		"to_key":   {newKey},
	})
	return err
}

// FileInfo returns metadata for key. If withDevices is false the Devices
// field is left empty to save a round trip on the tracker side.
func (c *Client) FileInfo(ctx context.Context, key string, withDevices bool) (*FileInfo, error) {
	devParam := "0"
	if withDevices {
		devParam = "1"
	}
	values, err := c.call(ctx, "file_info", url.Values{
		"domain":  {c.domain},
		"key":     {key},
		"devices": {devParam},
	})
	if err != nil {
		return nil, err
	}

	size, _ := strconv.ParseInt(values.Get("size"), 10, 64)
	info := &FileInfo{
		Key:      key,
		Class:    values.Get("class"),
		Checksum: values.Get("checksum"),
		Size:     size,
	}
	if withDevices {
		count, _ := strconv.Atoi(values.Get("devcount"))
		for i := 0; i < count; i++ {
			prefix := fmt.Sprintf("dev_%d_", i)
			id, _ := strconv.Atoi(values.Get(prefix + "id"))
			info.Devices = append(info.Devices, Device{ID: id, Status: values.Get(prefix + "status")})
		}
	}
	return info, nil
}

// UpdateClass changes the storage class for an existing key.
func (c *Client) UpdateClass(ctx context.Context, key, class string) error {
	_, err := c.call(ctx, "update_class", url.Values{
		"domain": {c.domain},
		"key":    {key},
		"class":  {class},
	})
	return err
}

// GetDevices returns the current device roster across the cluster.
func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	values, err := c.call(ctx, "get_devices", nil)
	if err != nil {
		return nil, err
	}

	count, _ := strconv.Atoi(values.Get("devices"))
	devices := make([]Device, 0, count)
	for i := 1; i <= count; i++ {
		prefix := fmt.Sprintf("dev%d", i)
		id, _ := strconv.Atoi(values.Get(prefix + "id"))
		mbTotal, _ := strconv.ParseInt(values.Get(prefix+"mbtotal"), 10, 64)
		mbFree, _ := strconv.ParseInt(values.Get(prefix+"mbfree"), 10, 64)
		devices = append(devices, Device{
			ID:            id,
			Status:        values.Get(prefix + "status"),
			ObservedState: values.Get(prefix + "observedstate"),
			MBTotal:       mbTotal,
			MBFree:        mbFree,
		})
	}
	return devices, nil
}
