// Package awstest provides an in-memory DynamoDB used by store and handler tests.
//
// It understands the small expression grammar the stores emit: SET lists with
// if_not_exists, a trailing REMOVE list, and conditions made of
// attribute_exists / attribute_not_exists / equality clauses joined by AND.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Dynamo is a goroutine-safe fake of the DynamoDBAPI interface.
type Dynamo struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]map[string]types.AttributeValue

	// Fail, when set, is consulted before every operation; a non-nil
	// return is handed back to the caller unchanged.
	Fail func(op, table string) error
}

// NewDynamo returns a Dynamo with one table per entry of keys
// (table name -> partition key attribute).
func NewDynamo(keys map[string]string) *Dynamo {
	d := &Dynamo{
		keys:   map[string]string{},
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
	for tbl, pk := range keys {
		d.keys[tbl] = pk
		d.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
	return d
}

// Item returns a copy of the stored item, or nil.
func (d *Dynamo) Item(table, pk string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.tables[table][pk]
	if !ok {
		return nil
	}
	return clone(it)
}

// Count returns the number of items in table.
func (d *Dynamo) Count(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

// Seed stores item directly, bypassing conditions.
func (d *Dynamo) Seed(table string, item map[string]types.AttributeValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pk, err := d.pkOf(table, item)
	if err != nil {
		panic(err)
	}
	d.tables[table][pk] = clone(item)
}

func (d *Dynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := *params.TableName
	if err := d.fail("PutItem", table); err != nil {
		return nil, err
	}
	pk, err := d.pkOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(params.ConditionExpression, d.tables[table][pk], params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	d.tables[table][pk] = clone(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := *params.TableName
	if err := d.fail("GetItem", table); err != nil {
		return nil, err
	}
	pk, err := d.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := d.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := *params.TableName
	if err := d.fail("UpdateItem", table); err != nil {
		return nil, err
	}
	pk, err := d.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	existing := d.tables[table][pk]
	ok, err := evalCondition(params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}

	item := clone(existing)
	if item == nil {
		item = clone(params.Key)
	}
	if params.UpdateExpression != nil {
		if err := applyUpdate(item, *params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	d.tables[table][pk] = item

	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew || params.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = clone(item)
	}
	return out, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	canceled := false
	for i, it := range params.TransactItems {
		p := it.Put
		if p == nil {
			return nil, errors.New("awstest: only Put is supported in transactions")
		}
		if err := d.fail("TransactWriteItems", *p.TableName); err != nil {
			return nil, err
		}
		pk, err := d.pkOf(*p.TableName, p.Item)
		if err != nil {
			return nil, err
		}
		ok, err := evalCondition(p.ConditionExpression, d.tables[*p.TableName][pk], p.ExpressionAttributeNames, p.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			canceled = true
		}
		reasons[i] = types.CancellationReason{Code: &code}
	}
	if canceled {
		msg := "Transaction cancelled"
		return nil, &types.TransactionCanceledException{Message: &msg, CancellationReasons: reasons}
	}
	for _, it := range params.TransactItems {
		pk, _ := d.pkOf(*it.Put.TableName, it.Put.Item)
		d.tables[*it.Put.TableName][pk] = clone(it.Put.Item)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) fail(op, table string) error {
	if d.Fail == nil {
		return nil
	}
	return d.Fail(op, table)
}

func (d *Dynamo) pkOf(table string, item map[string]types.AttributeValue) (string, error) {
	name, ok := d.keys[table]
	if !ok {
		return "", fmt.Errorf("awstest: unknown table %q", table)
	}
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: item has no string key %q", name)
	}
	return v.Value, nil
}

func conditionalFailed() error {
	msg := "The conditional request failed"
	return &types.ConditionalCheckFailedException{Message: &msg}
}

func clone(m map[string]types.AttributeValue) map[string]types.AttributeValue {
	if m == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func resolve(name string, names map[string]string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func evalCondition(expr *string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolve(clause[len("attribute_exists("):len(clause)-1], names)
			if _, ok := item[attr]; !ok {
				return false, nil
			}
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolve(clause[len("attribute_not_exists("):len(clause)-1], names)
			if _, ok := item[attr]; ok {
				return false, nil
			}
		case strings.Contains(clause, " = "):
			parts := strings.SplitN(clause, " = ", 2)
			attr := resolve(parts[0], names)
			want, ok := values[strings.TrimSpace(parts[1])]
			if !ok {
				return false, fmt.Errorf("awstest: missing value %s", parts[1])
			}
			got, ok := item[attr]
			if !ok || !reflect.DeepEqual(got, want) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("awstest: unsupported condition %q", clause)
		}
	}
	return true, nil
}

func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	setPart, removePart := expr, ""
	if i := strings.Index(expr, " REMOVE "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len(" REMOVE "):]
	}
	setPart = strings.TrimSpace(setPart)
	if !strings.HasPrefix(setPart, "SET ") {
		return fmt.Errorf("awstest: unsupported update %q", expr)
	}
	for _, assign := range splitTopLevel(strings.TrimPrefix(setPart, "SET ")) {
		parts := strings.SplitN(assign, " = ", 2)
		if len(parts) != 2 {
			return fmt.Errorf("awstest: bad assignment %q", assign)
		}
		target := resolve(parts[0], names)
		rhs := strings.TrimSpace(parts[1])
		if strings.HasPrefix(rhs, "if_not_exists(") && strings.HasSuffix(rhs, ")") {
			args := strings.SplitN(rhs[len("if_not_exists("):len(rhs)-1], ",", 2)
			if len(args) != 2 {
				return fmt.Errorf("awstest: bad if_not_exists %q", rhs)
			}
			if cur, ok := item[resolve(args[0], names)]; ok {
				item[target] = cur
				continue
			}
			rhs = strings.TrimSpace(args[1])
		}
		v, ok := values[rhs]
		if !ok {
			return fmt.Errorf("awstest: missing value %s", rhs)
		}
		item[target] = v
	}
	if removePart != "" {
		for _, n := range strings.Split(removePart, ",") {
			delete(item, resolve(n, names))
		}
	}
	return nil
}

func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}
