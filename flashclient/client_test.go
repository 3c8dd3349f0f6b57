package flashclient

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BertoldVdb/spinor/flashserver"
	"github.com/BertoldVdb/spinor/internal/testlog"
	"github.com/BertoldVdb/spinor/spinor"
	"github.com/BertoldVdb/spinor/spinor/chipdb"
	"github.com/BertoldVdb/spinor/spinor/emulator"
	"github.com/grandcat/zeroconf"
	"github.com/retroenv/retrogolib/assert"
)

const apiKey = "test-key"

func newClient(t *testing.T) (*Client, *emulator.Chip) {
	t.Helper()

	emu, err := emulator.New(emulator.M25P10RES)
	assert.NoError(t, err)

	chip, err := chipdb.Detect(emu, testlog.New(t))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = chip.Close() })

	api := flashserver.New(chip, testlog.New(t))
	srv := httptest.NewServer(flashserver.AuthHandler(api, apiKey, "M25P10.RES"))
	t.Cleanup(srv.Close)

	user, pass := flashserver.AuthCalculate(apiKey, "m25p10.res", flashserver.AccessWrite, time.Now().Add(time.Hour))
	c, err := New(srv.URL, WithAuth(user, pass), WithTimeout(5*time.Second))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, emu
}

func TestClient(t *testing.T) {
	c, emu := newClient(t)

	info := c.Info()
	assert.Equal(t, "M25P10.RES", info.Name)
	assert.Equal(t, uint32(128*1024), info.TotalSize)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	assert.NoError(t, c.Write(data, 0x2000))
	assert.True(t, bytes.Equal(data, emu.Memory()[0x2000:0x2008]))

	buf := make([]byte, len(data))
	assert.NoError(t, c.Read(buf, 0x2000))
	assert.True(t, bytes.Equal(data, buf))

	assert.NoError(t, c.Erase(0, 128*1024))
	assert.NoError(t, c.Read(buf, 0x2000))
	assert.True(t, bytes.Equal(bytes.Repeat([]byte{0xff}, len(data)), buf))
}

func TestClientReadAt(t *testing.T) {
	c, emu := newClient(t)
	emu.Load(128*1024-4, []byte{9, 8, 7, 6})

	buf := make([]byte, 8)
	n, err := c.ReadAt(buf, 128*1024-4)
	assert.Equal(t, 4, n)
	assert.True(t, errors.Is(err, io.EOF))
	assert.True(t, bytes.Equal([]byte{9, 8, 7, 6}, buf[:4]))

	_, err = c.ReadAt(buf, 128*1024)
	assert.True(t, errors.Is(err, io.EOF))

	emu.FailReads(0, 1, spinor.ErrIgnorable)
	n, err = c.ReadAt(buf, 0)
	assert.Equal(t, 8, n)
	assert.True(t, errors.Is(err, spinor.ErrIgnorable))
}

func TestClientStatus(t *testing.T) {
	c, _ := newClient(t)

	assert.NoError(t, c.SetStatus(spinor.StatusBP0|spinor.StatusBP1))
	sr, err := c.Status()
	assert.NoError(t, err)
	assert.True(t, sr.Protected())

	assert.NoError(t, c.Unprotect())
	sr, err = c.Status()
	assert.NoError(t, err)
	assert.False(t, sr.Protected())
}

func TestClientErrors(t *testing.T) {
	c, emu := newClient(t)

	err := c.Read(make([]byte, 16), 128*1024-8)
	assert.True(t, errors.Is(err, spinor.ErrAddressOutOfRange))

	var reqErr *RequestError
	assert.True(t, errors.As(err, &reqErr))
	assert.Equal(t, 416, reqErr.StatusCode)

	emu.FailReads(0x10, 1, spinor.ErrIgnorable)
	buf := make([]byte, 32)
	err = c.Read(buf, 0)
	assert.True(t, errors.Is(err, spinor.ErrIgnorable))
	assert.Equal(t, byte(0xff), buf[0x10])

	_, err = New(c.url)
	assert.Error(t, err)

	user, pass := flashserver.AuthCalculate(apiKey, "M25P10.RES", flashserver.AccessRead, time.Now().Add(time.Hour))
	ro, err := New(c.url, WithAuth(user, pass))
	assert.NoError(t, err)
	assert.NoError(t, ro.Read(buf[:4], 0x100))
	assert.True(t, errors.Is(ro.Write([]byte{0}, 0x100), ErrForbidden))
}

func TestParseEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("bench", flashserver.ServiceType, "local.")
	entry.Port = 8067
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.Text = []string{"chip=W25Q128FV", "size=16777216", "vendor=Winbond"}

	e, ok := parseEntry(entry)
	assert.True(t, ok)
	assert.Equal(t, "bench", e.Instance)
	assert.Equal(t, "W25Q128FV", e.Chip)
	assert.Equal(t, uint32(16777216), e.Size)
	assert.Equal(t, "192.168.1.20:8067", e.Addr)
	assert.Equal(t, "http://192.168.1.20:8067", e.URL())

	entry.Text = []string{"chip=W25Q128FV"}
	_, ok = parseEntry(entry)
	assert.False(t, ok)

	entry.Text = []string{"chip=W25Q128FV", "size=16777216"}
	entry.AddrIPv4 = nil
	_, ok = parseEntry(entry)
	assert.False(t, ok)
}

func TestAnnouncerText(t *testing.T) {
	info, ok := chipdb.Lookup("W25Q128FV")
	assert.True(t, ok)

	a := flashserver.NewAnnouncer("", 8067, info)
	for _, txt := range a.TXT() {
		if len(txt) > 5 && txt[:5] == "size=" {
			assert.Equal(t, "size=16777216", txt)
		}
	}

	entry := zeroconf.NewServiceEntry("spinor", flashserver.ServiceType, "local.")
	entry.Port = 8067
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	entry.Text = a.TXT()

	e, ok := parseEntry(entry)
	assert.True(t, ok)
	assert.Equal(t, "W25Q128FV", e.Chip)
	assert.Equal(t, "[fe80::1]:8067", e.Addr)
}
