// Package panel owns the lifecycle of the checkpoint visualization panel.
// There is at most one live panel per session; Update transparently creates
// one when absent, and a host-side disposal is the only way back to absent.
package panel

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/lithammer/dedent"

	"github.com/pagewatch/checkpoints/pkg/bridge"
	"github.com/pagewatch/checkpoints/pkg/protocol"
)

// Opts are the rendering parameters of the creation request.
type Opts struct {
	Title                   string
	Html                    string
	ViewColumn              int
	PreserveFocus           bool
	EnableFindWidget        bool
	RetainContextWhenHidden bool
	EnableScripts           bool
	PreserveOrphaned        bool
}

// DefaultOpts returns the checkpoint panel defaults.
func DefaultOpts() Opts {
	return Opts{
		Title:                   "Checkpoints",
		Html:                    seedHtml,
		ViewColumn:              2,
		RetainContextWhenHidden: true,
		EnableScripts:           true,
		EnableFindWidget:        true,
	}
}

// Controller keeps the per-session panel state and talks to the host.
type Controller struct {
	mx        sync.Mutex
	b         bridge.Bridge
	sessionId string
	opts      Opts

	panelId  string
	live     bool
	created  uint64
	disposal *bridge.Listener
}

func New(b bridge.Bridge, sessionId string, opts Opts) *Controller {
	return &Controller{
		b:         b,
		sessionId: sessionId,
		opts:      opts,
	}
}

// Update posts data to the panel, creating one first when absent. Safe to
// call at any time - before any panel existed, and after a disposal.
func (c *Controller) Update(data []protocol.CheckpointRecord) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if !c.live {
		if err := c.createLocked(); err != nil {
			return err
		}
	}

	return c.b.SendMessage(c.sessionId, &protocol.WebviewPostMessage{
		Message: protocol.MsgWebviewPostMessage,
		Id:      c.panelId,
		Inner: protocol.CheckpointData{
			Type: protocol.TypeCheckpointData,
			Json: data,
		},
	})
}

// Create creates the panel when absent, or reveals the existing one. Never
// results in a second live panel.
func (c *Controller) Create() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.live {
		return c.b.SendMessage(c.sessionId, &protocol.WebviewReveal{
			Message:    protocol.MsgWebviewReveal,
			Id:         c.panelId,
			ViewColumn: c.opts.ViewColumn,
		})
	}

	return c.createLocked()
}

// Live reports whether a panel currently exists.
func (c *Controller) Live() bool {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.live
}

// PanelId returns the current panel id, or "" when absent.
func (c *Controller) PanelId() string {
	c.mx.Lock()
	defer c.mx.Unlock()

	if !c.live {
		return ""
	}

	return c.panelId
}

// createLocked allocates a fresh panel id, requests the panel, and
// subscribes to its disposal notification. Caller holds c.mx.
func (c *Controller) createLocked() error {
	c.created++
	id := c.sessionId + "-ckpt-" + strconv.FormatUint(c.created, 10)

	err := c.b.SendMessage(c.sessionId, &protocol.WebviewCreate{
		Message:                 protocol.MsgWebviewCreate,
		Id:                      id,
		Html:                    c.opts.Html,
		Title:                   c.opts.Title,
		ViewColumn:              c.opts.ViewColumn,
		PreserveFocus:           c.opts.PreserveFocus,
		EnableFindWidget:        c.opts.EnableFindWidget,
		RetainContextWhenHidden: c.opts.RetainContextWhenHidden,
		EnableScripts:           c.opts.EnableScripts,
		PreserveOrphaned:        c.opts.PreserveOrphaned,
	})
	if err != nil {
		return err
	}

	c.panelId = id
	c.live = true

	// watch for this panel's disposal
	l := bridge.Listener(func(sessionId string, raw json.RawMessage) {
		if sessionId != c.sessionId {
			return
		}
		msg, ok := protocol.DecodeInbound(raw)
		if !ok {
			return
		}
		if disposed, ok := msg.(*protocol.WebviewDidDispose); ok {
			c.onDisposed(disposed.Id)
		}
	})
	c.disposal = &l
	c.b.AddListener(c.disposal)

	return nil
}

// onDisposed transitions Live -> Absent. The next Update recreates.
func (c *Controller) onDisposed(panelId string) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if !c.live || panelId != c.panelId {
		return
	}

	c.live = false
	c.panelId = ""
	c.b.RemoveListener(c.disposal)
	c.disposal = nil
}

// seedHtml is the initial panel content. The host replaces it with live data
// once checkpointData records arrive; the filter box runs panel-side.
var seedHtml = dedent.Dedent(`
	<!DOCTYPE html>
	<html>
	<body>
	  <input id="filter" placeholder="filter by module" />
	  <table id="checkpoints">
	    <tr><th>last access</th><th>module</th><th>file addr</th>
	      <th>load addr</th></tr>
	  </table>
	  <script>
	    const rows = () => document.querySelectorAll('#checkpoints tr + tr')
	    window.addEventListener('message', (ev) => {
	      const msg = ev.data
	      if (msg.type !== 'checkpointData') { return }
	      const table = document.getElementById('checkpoints')
	      rows().forEach((r) => r.remove())
	      for (const rec of msg.json) {
	        for (const frame of rec.frames) {
	          const tr = table.insertRow()
	          tr.insertCell().textContent = '0x' + rec.last_access.toString(16)
	          tr.insertCell().textContent = frame.module
	          tr.insertCell().textContent = '0x' + frame.file_address.toString(16)
	          tr.insertCell().textContent = '0x' + frame.load_address.toString(16)
	        }
	      }
	    })
	    document.getElementById('filter').addEventListener('input', (ev) => {
	      const needle = ev.target.value
	      rows().forEach((r) => {
	        r.style.display = r.cells[1].textContent.includes(needle) ? '' : 'none'
	      })
	    })
	  </script>
	</body>
	</html>
`)
