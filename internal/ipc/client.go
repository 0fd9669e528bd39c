package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		// Closing the rpc client also closes conn.
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Req any, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// Devices retrieves the device panel.
func (c *Client) Devices() (*DevicesResponse, error) {
	return call[DevicesRequest, DevicesResponse](c, "Devices", DevicesRequest{})
}

// StartServer asks the daemon to bind the FTP listener.
func (c *Client) StartServer() (*ServerResponse, error) {
	return call[ServerStartRequest, ServerResponse](c, "StartServer", ServerStartRequest{})
}

// StopServer asks the daemon to close the FTP listener.
func (c *Client) StopServer() (*ServerResponse, error) {
	return call[ServerStopRequest, ServerResponse](c, "StopServer", ServerStopRequest{})
}

// Failures lists failure ledger entries.
func (c *Client) Failures(all bool) (*FailuresResponse, error) {
	return call[FailuresRequest, FailuresResponse](c, "Failures", FailuresRequest{All: all})
}

// ResolveFailure dismisses an open failure.
func (c *Client) ResolveFailure(id int64) (*FailureResponse, error) {
	return call[FailureRequest, FailureResponse](c, "ResolveFailure", FailureRequest{ID: id})
}

// RetryFailure re-routes the staged file of an open failure.
func (c *Client) RetryFailure(id int64) (*FailureResponse, error) {
	return call[FailureRequest, FailureResponse](c, "RetryFailure", FailureRequest{ID: id})
}

// Activity returns monitor activity lines after since.
func (c *Client) Activity(since uint64, limit int) (*ActivityResponse, error) {
	return call[ActivityRequest, ActivityResponse](c, "Activity", ActivityRequest{Since: since, Limit: limit})
}

// LogTail returns log lines from the daemon log file.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailRequest, LogTailResponse](c, "LogTail", req)
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationRequest, TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
