package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awsv2xray "github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"github.com/aws/aws-xray-sdk-go/xray"
	"servicegate/internal/domain"
)

type Client struct {
	db        *awsv2dynamodb.Client
	tableName string
}

func NewClient(ctx context.Context, region, tableName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	awsv2xray.AWSV2Instrumentor(&cfg.APIOptions)
	client := awsv2dynamodb.NewFromConfig(cfg)
	return &Client{db: client, tableName: tableName}, nil
}

func resourcePK(resourceID string) string { return "RES#" + resourceID }
func resourceMetaSK() string              { return "META" }
func permSK(principalID string) string    { return "PERM#" + principalID }
func shareSK(email string) string         { return "SHARE#" + email }
func ownerPK(ownerID string) string       { return "OWNER#" + ownerID }
func ownerURISK(uri string) string        { return "URI#" + uri }
func principalPK(email string) string     { return "PRINCIPAL#" + email }

func isConditionalCheckFailure(err error) bool {
	var condErr *awsv2types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// isTransactionConditionFailure reports whether a TransactWriteItems
// call was cancelled because one of its condition expressions failed, as
// opposed to a throttling or validation fault.
func isTransactionConditionFailure(err error) bool {
	var cancelErr *awsv2types.TransactionCanceledException
	if !errors.As(err, &cancelErr) {
		return false
	}
	for _, reason := range cancelErr.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

type ResourceRepository struct{ client *Client }

type PermissionRepository struct{ client *Client }

type PendingShareRepository struct{ client *Client }

type PrincipalRepository struct{ client *Client }

func NewResourceRepository(client *Client) *ResourceRepository {
	return &ResourceRepository{client: client}
}

func NewPermissionRepository(client *Client) *PermissionRepository {
	return &PermissionRepository{client: client}
}

func NewPendingShareRepository(client *Client) *PendingShareRepository {
	return &PendingShareRepository{client: client}
}

func NewPrincipalRepository(client *Client) *PrincipalRepository {
	return &PrincipalRepository{client: client}
}

// Create writes the resource row and its (owner, uri) lookup row in one
// transaction so idempotent registration can race safely.
func (r *ResourceRepository) Create(ctx context.Context, res domain.Resource) error {
	scopesAV, err := attributevalue.Marshal(res.Scopes)
	if err != nil {
		return err
	}
	meta := map[string]awsv2types.AttributeValue{
		"PK":         &awsv2types.AttributeValueMemberS{Value: resourcePK(res.ID)},
		"SK":         &awsv2types.AttributeValueMemberS{Value: resourceMetaSK()},
		"EntityType": &awsv2types.AttributeValueMemberS{Value: "RESOURCE"},
		"ID":         &awsv2types.AttributeValueMemberS{Value: res.ID},
		"OwnerID":    &awsv2types.AttributeValueMemberS{Value: res.OwnerID},
		"URI":        &awsv2types.AttributeValueMemberS{Value: res.URI},
		"Scopes":     scopesAV,
		"CreatedAt":  &awsv2types.AttributeValueMemberS{Value: res.CreatedAt.Format(time.RFC3339)},
	}
	lookup := map[string]awsv2types.AttributeValue{
		"PK":         &awsv2types.AttributeValueMemberS{Value: ownerPK(res.OwnerID)},
		"SK":         &awsv2types.AttributeValueMemberS{Value: ownerURISK(res.URI)},
		"EntityType": &awsv2types.AttributeValueMemberS{Value: "RESOURCE_URI"},
		"ResourceID": &awsv2types.AttributeValueMemberS{Value: res.ID},
	}
	return xray.Capture(ctx, "DynamoDB.CreateResource", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: []awsv2types.TransactWriteItem{
				{Put: &awsv2types.Put{
					TableName:           aws.String(r.client.tableName),
					Item:                meta,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				}},
				{Put: &awsv2types.Put{
					TableName:           aws.String(r.client.tableName),
					Item:                lookup,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				}},
			},
		})
		if isTransactionConditionFailure(err) {
			return domain.ErrAlreadyExists
		}
		return err
	})
}

func (r *ResourceRepository) GetByID(ctx context.Context, resourceID string) (domain.Resource, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetResource", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: resourcePK(resourceID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: resourceMetaSK()},
			},
		})
		return e
	})
	if err != nil {
		return domain.Resource{}, err
	}
	if out.Item == nil {
		return domain.Resource{}, domain.ErrNotFound
	}
	return unmarshalResource(out.Item)
}

func (r *ResourceRepository) GetByOwnerAndURI(ctx context.Context, ownerID, uri string) (domain.Resource, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetResourceByOwnerURI", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: ownerPK(ownerID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: ownerURISK(uri)},
			},
		})
		return e
	})
	if err != nil {
		return domain.Resource{}, err
	}
	if out.Item == nil {
		return domain.Resource{}, domain.ErrNotFound
	}
	raw := struct {
		ResourceID string `dynamodbav:"ResourceID"`
	}{}
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.Resource{}, err
	}
	return r.GetByID(ctx, raw.ResourceID)
}

// Delete removes the resource row, its lookup row and, in batches,
// every permission and pending share under the same partition key.
func (r *ResourceRepository) Delete(ctx context.Context, resourceID string) error {
	res, err := r.GetByID(ctx, resourceID)
	if err != nil {
		return err
	}
	var out *awsv2dynamodb.QueryOutput
	err = xray.Capture(ctx, "DynamoDB.QueryResourceRows", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, &awsv2dynamodb.QueryInput{
			TableName:              aws.String(r.client.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":pk": &awsv2types.AttributeValueMemberS{Value: resourcePK(resourceID)},
			},
			ProjectionExpression: aws.String("PK, SK"),
		})
		return e
	})
	if err != nil {
		return err
	}
	requests := make([]awsv2types.WriteRequest, 0, len(out.Items)+1)
	for _, item := range out.Items {
		requests = append(requests, awsv2types.WriteRequest{
			DeleteRequest: &awsv2types.DeleteRequest{Key: map[string]awsv2types.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			}},
		})
	}
	requests = append(requests, awsv2types.WriteRequest{
		DeleteRequest: &awsv2types.DeleteRequest{Key: map[string]awsv2types.AttributeValue{
			"PK": &awsv2types.AttributeValueMemberS{Value: ownerPK(res.OwnerID)},
			"SK": &awsv2types.AttributeValueMemberS{Value: ownerURISK(res.URI)},
		}},
	})
	return xray.Capture(ctx, "DynamoDB.DeleteResourceCascade", func(ctx context.Context) error {
		// BatchWriteItem caps at 25 requests per call.
		for start := 0; start < len(requests); start += 25 {
			end := min(start+25, len(requests))
			_, err := r.client.db.BatchWriteItem(ctx, &awsv2dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]awsv2types.WriteRequest{
					r.client.tableName: requests[start:end],
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func unmarshalResource(item map[string]awsv2types.AttributeValue) (domain.Resource, error) {
	raw := struct {
		ID        string   `dynamodbav:"ID"`
		OwnerID   string   `dynamodbav:"OwnerID"`
		URI       string   `dynamodbav:"URI"`
		Scopes    []string `dynamodbav:"Scopes"`
		CreatedAt string   `dynamodbav:"CreatedAt"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.Resource{}, err
	}
	createdAt, _ := time.Parse(time.RFC3339, raw.CreatedAt)
	return domain.Resource{ID: raw.ID, OwnerID: raw.OwnerID, URI: raw.URI, Scopes: raw.Scopes, CreatedAt: createdAt}, nil
}

func permissionItem(perm domain.Permission) (map[string]awsv2types.AttributeValue, error) {
	scopesAV, err := attributevalue.Marshal(perm.Scopes)
	if err != nil {
		return nil, err
	}
	return map[string]awsv2types.AttributeValue{
		"PK":          &awsv2types.AttributeValueMemberS{Value: resourcePK(perm.ResourceID)},
		"SK":          &awsv2types.AttributeValueMemberS{Value: permSK(perm.PrincipalID)},
		"EntityType":  &awsv2types.AttributeValueMemberS{Value: "PERMISSION"},
		"PrincipalID": &awsv2types.AttributeValueMemberS{Value: perm.PrincipalID},
		"Scopes":      scopesAV,
		"GrantedBy":   &awsv2types.AttributeValueMemberS{Value: perm.GrantedBy},
		"GrantedAt":   &awsv2types.AttributeValueMemberS{Value: perm.GrantedAt.Format(time.RFC3339)},
	}, nil
}

// Put writes the permission conditioned on the resource META row still
// existing, so a grant racing a cascade delete cannot leave an orphaned
// permission. A vanished resource is reported as domain.ErrNotFound.
func (r *PermissionRepository) Put(ctx context.Context, perm domain.Permission) error {
	item, err := permissionItem(perm)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutPermission", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: []awsv2types.TransactWriteItem{
				{ConditionCheck: &awsv2types.ConditionCheck{
					TableName: aws.String(r.client.tableName),
					Key: map[string]awsv2types.AttributeValue{
						"PK": &awsv2types.AttributeValueMemberS{Value: resourcePK(perm.ResourceID)},
						"SK": &awsv2types.AttributeValueMemberS{Value: resourceMetaSK()},
					},
					ConditionExpression: aws.String("attribute_exists(PK)"),
				}},
				{Put: &awsv2types.Put{
					TableName: aws.String(r.client.tableName),
					Item:      item,
				}},
			},
		})
		if isTransactionConditionFailure(err) {
			return domain.ErrNotFound
		}
		return err
	})
}

func (r *PermissionRepository) Get(ctx context.Context, resourceID, principalID string) (domain.Permission, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetPermission", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: resourcePK(resourceID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: permSK(principalID)},
			},
		})
		return e
	})
	if err != nil {
		return domain.Permission{}, err
	}
	if out.Item == nil {
		return domain.Permission{}, domain.ErrNotFound
	}
	return unmarshalPermission(resourceID, out.Item)
}

func (r *PermissionRepository) Delete(ctx context.Context, resourceID, principalID string) error {
	return xray.Capture(ctx, "DynamoDB.DeletePermission", func(ctx context.Context) error {
		_, err := r.client.db.DeleteItem(ctx, &awsv2dynamodb.DeleteItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: resourcePK(resourceID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: permSK(principalID)},
			},
		})
		return err
	})
}

func (r *PermissionRepository) ListByResource(ctx context.Context, resourceID string) ([]domain.Permission, error) {
	var out *awsv2dynamodb.QueryOutput
	err := xray.Capture(ctx, "DynamoDB.QueryPermissions", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, &awsv2dynamodb.QueryInput{
			TableName:              aws.String(r.client.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":pk": &awsv2types.AttributeValueMemberS{Value: resourcePK(resourceID)},
				":sk": &awsv2types.AttributeValueMemberS{Value: "PERM#"},
			},
		})
		return e
	})
	if err != nil {
		return nil, err
	}
	perms := make([]domain.Permission, 0, len(out.Items))
	for _, item := range out.Items {
		perm, err := unmarshalPermission(resourceID, item)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

func unmarshalPermission(resourceID string, item map[string]awsv2types.AttributeValue) (domain.Permission, error) {
	raw := struct {
		PrincipalID string   `dynamodbav:"PrincipalID"`
		Scopes      []string `dynamodbav:"Scopes"`
		GrantedBy   string   `dynamodbav:"GrantedBy"`
		GrantedAt   string   `dynamodbav:"GrantedAt"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.Permission{}, err
	}
	grantedAt, _ := time.Parse(time.RFC3339, raw.GrantedAt)
	return domain.Permission{ResourceID: resourceID, PrincipalID: raw.PrincipalID, Scopes: raw.Scopes, GrantedBy: raw.GrantedBy, GrantedAt: grantedAt}, nil
}

func (r *PendingShareRepository) Put(ctx context.Context, share domain.PendingShare) error {
	scopesAV, err := attributevalue.Marshal(share.Scopes)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutPendingShare", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: aws.String(r.client.tableName),
			Item: map[string]awsv2types.AttributeValue{
				"PK":             &awsv2types.AttributeValueMemberS{Value: resourcePK(share.ResourceID)},
				"SK":             &awsv2types.AttributeValueMemberS{Value: shareSK(share.RecipientEmail)},
				"EntityType":     &awsv2types.AttributeValueMemberS{Value: "PENDING_SHARE"},
				"RecipientEmail": &awsv2types.AttributeValueMemberS{Value: share.RecipientEmail},
				"Scopes":         scopesAV,
				"CreatedBy":      &awsv2types.AttributeValueMemberS{Value: share.CreatedBy},
				"CreatedAt":      &awsv2types.AttributeValueMemberS{Value: share.CreatedAt.Format(time.RFC3339)},
			},
		})
		return err
	})
}

func (r *PendingShareRepository) Get(ctx context.Context, resourceID, recipientEmail string) (domain.PendingShare, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetPendingShare", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: resourcePK(resourceID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: shareSK(recipientEmail)},
			},
		})
		return e
	})
	if err != nil {
		return domain.PendingShare{}, err
	}
	if out.Item == nil {
		return domain.PendingShare{}, domain.ErrNotFound
	}
	raw := struct {
		RecipientEmail string   `dynamodbav:"RecipientEmail"`
		Scopes         []string `dynamodbav:"Scopes"`
		CreatedBy      string   `dynamodbav:"CreatedBy"`
		CreatedAt      string   `dynamodbav:"CreatedAt"`
	}{}
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.PendingShare{}, err
	}
	createdAt, _ := time.Parse(time.RFC3339, raw.CreatedAt)
	return domain.PendingShare{ResourceID: resourceID, RecipientEmail: raw.RecipientEmail, Scopes: raw.Scopes, CreatedBy: raw.CreatedBy, CreatedAt: createdAt}, nil
}

func (r *PendingShareRepository) Delete(ctx context.Context, resourceID, recipientEmail string) error {
	return xray.Capture(ctx, "DynamoDB.DeletePendingShare", func(ctx context.Context) error {
		_, err := r.client.db.DeleteItem(ctx, &awsv2dynamodb.DeleteItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: resourcePK(resourceID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: shareSK(recipientEmail)},
			},
		})
		return err
	})
}

// ResolveShare commits the guest-provisioning transaction. The delete is
// conditional on the share still existing, which is what makes
// resolution exactly-once across nodes: the loser's transaction cancels
// and is reported as domain.ErrNotFound.
func (r *PendingShareRepository) ResolveShare(ctx context.Context, share domain.PendingShare, principal domain.Principal, perm domain.Permission, createPrincipal bool) error {
	permItem, err := permissionItem(perm)
	if err != nil {
		return err
	}
	items := make([]awsv2types.TransactWriteItem, 0, 3)
	if createPrincipal {
		items = append(items, awsv2types.TransactWriteItem{Put: &awsv2types.Put{
			TableName: aws.String(r.client.tableName),
			Item: map[string]awsv2types.AttributeValue{
				"PK":         &awsv2types.AttributeValueMemberS{Value: principalPK(principal.Email)},
				"SK":         &awsv2types.AttributeValueMemberS{Value: "META"},
				"EntityType": &awsv2types.AttributeValueMemberS{Value: "PRINCIPAL"},
				"ID":         &awsv2types.AttributeValueMemberS{Value: principal.ID},
				"Email":      &awsv2types.AttributeValueMemberS{Value: principal.Email},
				"Origin":     &awsv2types.AttributeValueMemberS{Value: string(principal.Origin)},
			},
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}})
	}
	items = append(items,
		awsv2types.TransactWriteItem{Put: &awsv2types.Put{
			TableName: aws.String(r.client.tableName),
			Item:      permItem,
		}},
		awsv2types.TransactWriteItem{Delete: &awsv2types.Delete{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: resourcePK(share.ResourceID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: shareSK(share.RecipientEmail)},
			},
			ConditionExpression: aws.String("attribute_exists(PK)"),
		}},
	)
	return xray.Capture(ctx, "DynamoDB.ResolvePendingShare", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{TransactItems: items})
		if isTransactionConditionFailure(err) {
			return domain.ErrNotFound
		}
		return err
	})
}

func (r *PrincipalRepository) Create(ctx context.Context, principal domain.Principal) error {
	return xray.Capture(ctx, "DynamoDB.PutPrincipal", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: aws.String(r.client.tableName),
			Item: map[string]awsv2types.AttributeValue{
				"PK":         &awsv2types.AttributeValueMemberS{Value: principalPK(principal.Email)},
				"SK":         &awsv2types.AttributeValueMemberS{Value: "META"},
				"EntityType": &awsv2types.AttributeValueMemberS{Value: "PRINCIPAL"},
				"ID":         &awsv2types.AttributeValueMemberS{Value: principal.ID},
				"Email":      &awsv2types.AttributeValueMemberS{Value: principal.Email},
				"Origin":     &awsv2types.AttributeValueMemberS{Value: string(principal.Origin)},
			},
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrAlreadyExists
		}
		return err
	})
}

func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (domain.Principal, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetPrincipal", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: principalPK(email)},
				"SK": &awsv2types.AttributeValueMemberS{Value: "META"},
			},
		})
		return e
	})
	if err != nil {
		return domain.Principal{}, err
	}
	if out.Item == nil {
		return domain.Principal{}, domain.ErrNotFound
	}
	raw := struct {
		ID     string `dynamodbav:"ID"`
		Email  string `dynamodbav:"Email"`
		Origin string `dynamodbav:"Origin"`
	}{}
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.Principal{}, err
	}
	return domain.Principal{ID: raw.ID, Email: raw.Email, Origin: domain.PrincipalOrigin(raw.Origin)}, nil
}
