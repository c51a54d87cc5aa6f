package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// DynamoVisitedRepo はDynamoDBを使用した訪問国リポジトリ。
// STORAGE_BACKEND=dynamodb のときにPostgreSQL実装の代わりに使用される。
// 1ユーザー1アイテムで、キーは PK="USER#<id>" / SK="VISITED"。
type DynamoVisitedRepo struct {
	db    *dynamodb.Client
	table string
}

// visitedItem はDynamoDBに格納する訪問国アイテム。日時はISO8601文字列で保持する。
type visitedItem struct {
	PK           string   `dynamodbav:"PK"`
	SK           string   `dynamodbav:"SK"`
	UserID       string   `dynamodbav:"user_id"`
	CountryCodes []string `dynamodbav:"country_codes"`
	CreatedAt    string   `dynamodbav:"created_at"`
	UpdatedAt    string   `dynamodbav:"updated_at"`
}

// NewDynamoVisitedRepo はDynamoVisitedRepoを生成する。
func NewDynamoVisitedRepo(db *dynamodb.Client, table string) *DynamoVisitedRepo {
	return &DynamoVisitedRepo{db: db, table: table}
}

var _ VisitedRepository = (*DynamoVisitedRepo)(nil)

// makeVisitedKeys は訪問国アイテムのパーティションキーとソートキーを構築する。
func makeVisitedKeys(userID string) (pk, sk string) {
	return fmt.Sprintf("USER#%s", userID), "VISITED"
}

// keyAttrs はGetItem/DeleteItem用のキー属性マップを構築する。
func keyAttrs(userID string) map[string]types.AttributeValue {
	pk, sk := makeVisitedKeys(userID)
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// Get は指定ユーザーの訪問国セットを取得する。アイテムが存在しない場合はnilを返す。
func (r *DynamoVisitedRepo) Get(ctx context.Context, userID string) (*model.VisitedSet, error) {
	out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       keyAttrs(userID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get visited item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item visitedItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visited item: %w", err)
	}

	return item.toModel()
}

// EnsureExists は指定ユーザーの空の訪問国アイテムを作成する。
// 既に存在する場合は条件式で弾かれ、何もしない（冪等）。
func (r *DynamoVisitedRepo) EnsureExists(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	item := newVisitedItem(userID, []string{}, now, now)

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal visited item: %w", err)
	}

	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("failed to put visited item: %w", err)
	}
	return nil
}

// ToggleCode は国コードの有無を反転し、更新後の配列を返す。
// DynamoDBでは読み込み後に全体を書き戻すため、同時更新はlast-write-winsとなる。
func (r *DynamoVisitedRepo) ToggleCode(ctx context.Context, userID, code string) ([]string, error) {
	set, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("visited record not found: %s", userID)
	}

	codes := toggleSortedCode(set.CountryCodes, code)
	if err := r.ReplaceCodes(ctx, userID, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// ReplaceCodes は訪問国配列全体を置き換える。アイテムが無ければ作成する。
func (r *DynamoVisitedRepo) ReplaceCodes(ctx context.Context, userID string, codes []string) error {
	if codes == nil {
		codes = []string{}
	}

	now := time.Now().UTC()
	createdAt := now
	if existing, err := r.Get(ctx, userID); err == nil && existing != nil {
		createdAt = existing.CreatedAt
	}

	item := newVisitedItem(userID, codes, createdAt, now)
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal visited item: %w", err)
	}

	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put visited item: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの訪問国アイテムを削除する。
func (r *DynamoVisitedRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       keyAttrs(userID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete visited item: %w", err)
	}
	return nil
}

// newVisitedItem は格納用アイテムを構築する。
func newVisitedItem(userID string, codes []string, createdAt, updatedAt time.Time) visitedItem {
	pk, sk := makeVisitedKeys(userID)
	return visitedItem{
		PK:           pk,
		SK:           sk,
		UserID:       userID,
		CountryCodes: codes,
		CreatedAt:    createdAt.Format(time.RFC3339),
		UpdatedAt:    updatedAt.Format(time.RFC3339),
	}
}

// toModel は格納用アイテムをドメインモデルに変換する。
func (i visitedItem) toModel() (*model.VisitedSet, error) {
	createdAt, err := time.Parse(time.RFC3339, i.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339, i.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	codes := i.CountryCodes
	if codes == nil {
		codes = []string{}
	}

	return &model.VisitedSet{
		UserID:       i.UserID,
		CountryCodes: codes,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// toggleSortedCode はソート済み配列に対して国コードの有無を反転する。
// 追加時はソート順を保って挿入する。
func toggleSortedCode(codes []string, code string) []string {
	idx := sort.SearchStrings(codes, code)
	if idx < len(codes) && codes[idx] == code {
		result := make([]string, 0, len(codes)-1)
		result = append(result, codes[:idx]...)
		result = append(result, codes[idx+1:]...)
		return result
	}
	result := make([]string, 0, len(codes)+1)
	result = append(result, codes[:idx]...)
	result = append(result, code)
	result = append(result, codes[idx:]...)
	return result
}
