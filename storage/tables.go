package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

// Tables stores each collection in its own Azure table. All records of a
// collection share one partition and use their ID as row key.
type Tables struct {
	svc *aztables.ServiceClient

	mu      sync.Mutex
	names   map[string]string
	clients map[string]*aztables.Client
}

// NewTables creates a Tables backend from the given connection string.
func NewTables(connStr string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{svc: svc, names: make(map[string]string), clients: make(map[string]*aztables.Client)}, nil
}

// MapTable stores collection in the named table instead of a table named
// after the collection. It must be called before first use.
func (t *Tables) MapTable(collection, table string) *Tables {
	t.mu.Lock()
	defer t.mu.Unlock()
	if table != "" {
		t.names[collection] = table
	}
	return t
}

func (t *Tables) table(collection string) *aztables.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[collection]
	if !ok {
		name := collection
		if n, mapped := t.names[collection]; mapped {
			name = n
		}
		c = t.svc.NewClient(name)
		t.clients[collection] = c
	}
	return c
}

func entityPayload(collection, id string, fields Fields) ([]byte, error) {
	ent := encodeFields(fields)
	ent["PartitionKey"] = collection
	ent["RowKey"] = id
	return sonic.Marshal(ent)
}

func (t *Tables) Insert(ctx context.Context, collection, id string, fields Fields) error {
	payload, err := entityPayload(collection, id, fields)
	if err != nil {
		return err
	}
	_, err = t.table(collection).AddEntity(ctx, payload, nil)
	return err
}

func (t *Tables) Merge(ctx context.Context, collection, id string, fields Fields) error {
	payload, err := entityPayload(collection, id, fields)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = t.table(collection).UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isStatus(err, http.StatusNotFound) {
		return ErrNotFound
	}
	return err
}

func (t *Tables) Delete(ctx context.Context, collection, id string) error {
	_, err := t.table(collection).DeleteEntity(ctx, collection, id, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (t *Tables) Scan(ctx context.Context, collection string) ([]Record, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(collection, "'", "''") + "'"
	pager := t.table(collection).NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	recs := []Record{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var raw map[string]any
			if err := sonic.Unmarshal(e, &raw); err != nil {
				return nil, err
			}
			id, _ := raw["RowKey"].(string)
			recs = append(recs, Record{ID: id, Fields: decodeFields(raw)})
		}
	}
	return recs, nil
}

func (t *Tables) Close() error { return nil }

// EnsureTables creates the named tables, ignoring ones that already exist.
func EnsureTables(ctx context.Context, connStr string, names ...string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
