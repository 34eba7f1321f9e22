package storage

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// Azure stores every board in one Azure Table. The partition key is the board id,
// the row key joins kind and entity id.
type Azure struct {
	table *aztables.Client
}

var retryOptions = policy.RetryOptions{
	MaxRetries:    3,
	TryTimeout:    time.Minute * 3,
	RetryDelay:    time.Second * 1,
	MaxRetryDelay: time.Second * 15,
	StatusCodes:   []int{408, 429, 500, 502, 503, 504},
}

// NewAzure connects to table using a storage account connection string.
func NewAzure(connStr, table string) (*Azure, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{Retry: retryOptions},
	})
	if err != nil {
		return nil, err
	}
	return &Azure{table: svc.NewClient(table)}, nil
}

type itemEntity struct {
	aztables.Entity
	Kind string  `json:"Kind"`
	Rank float64 `json:"Rank"`
	Data string  `json:"Data"`
}

func rowKey(kind domain.Kind, id string) string {
	return string(kind) + "|" + url.PathEscape(id)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func listFilter(board string, kind domain.Kind) string {
	return "PartitionKey eq " + quote(board) + " and Kind eq " + quote(string(kind))
}

func encodeEntity(board string, kind domain.Kind, item Item) ([]byte, error) {
	data, err := sonic.MarshalString(item.Data)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(itemEntity{
		Entity: aztables.Entity{PartitionKey: board, RowKey: rowKey(kind, item.ID)},
		Kind:   string(kind),
		Rank:   item.Rank,
		Data:   data,
	})
}

func decodeEntity(raw []byte) (Item, error) {
	var ent itemEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return Item{}, err
	}
	_, escaped, _ := strings.Cut(ent.RowKey, "|")
	id, err := url.PathUnescape(escaped)
	if err != nil {
		return Item{}, err
	}
	item := Item{ID: id, Rank: ent.Rank}
	if ent.Data != "" {
		if err := sonic.UnmarshalString(ent.Data, &item.Data); err != nil {
			return Item{}, err
		}
	}
	return item, nil
}

func (a *Azure) List(ctx context.Context, board string, kind domain.Kind) ([]Item, error) {
	filter := listFilter(board, kind)
	pager := a.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []Item{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			item, err := decodeEntity(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	sortItems(items)
	return items, nil
}

func (a *Azure) Get(ctx context.Context, board string, kind domain.Kind, id string) (Item, error) {
	resp, err := a.table.GetEntity(ctx, board, rowKey(kind, id), nil)
	if err != nil {
		if isNotFound(err) {
			return Item{}, domain.ErrNotFound
		}
		return Item{}, err
	}
	return decodeEntity(resp.Value)
}

func (a *Azure) Put(ctx context.Context, board string, kind domain.Kind, item Item) error {
	payload, err := encodeEntity(board, kind, item)
	if err != nil {
		return err
	}
	_, err = a.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (a *Azure) Delete(ctx context.Context, board string, kind domain.Kind, id string) error {
	_, err := a.table.DeleteEntity(ctx, board, rowKey(kind, id), nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
