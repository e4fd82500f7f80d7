/*
Package mongo provides the MongoDB implementation of the aggregate stores.

PURPOSE:
  This is the production backend. It reads and writes the POS collections
  in place: item, check-item and aggregate-pos-data.

DOCUMENT SHAPES:
  item:               _id, name, location, sale-department, master-department
                      plus any array-valued fields
  check-item:         _id, item ("/v1.0/item/<id>"), location
  aggregate-pos-data: _id, reference, location, user, type, data-type,
                      bgn-timestamp, end-timestamp, value, children

IDENTIFIERS:
  Item ids are strings ("abc.1"). Aggregate ids may be strings or
  ObjectIDs; children carry the hex form. Lookups by id match both.

VALUES:
  Values are read from double, int32, int64, decimal128 or string and
  written back as double.

ATOMICITY:
  MergeValue is a single UpdateOne carrying both $set and $addToSet.

SEE ALSO:
  - aggregate/store.go: Interface definitions
  - store/sqlite/sqlite.go: Local rehearsal backend
*/
package mongo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// Collection names.
const (
	ItemCollection      = "item"
	CheckItemCollection = "check-item"
	AggregateCollection = "aggregate-pos-data"
)

// DefaultDatabase is used when Options.Database is empty.
const DefaultDatabase = "tipzyy_fix_duplicates"

type Options struct {
	URL      string
	Database string
}

// Store implements the aggregate storage interfaces on MongoDB.
type Store struct {
	client     *mongodriver.Client
	items      *mongodriver.Collection
	checkItems *mongodriver.Collection
	aggregates *mongodriver.Collection
}

var (
	_ aggregate.Store  = (*Store)(nil)
	_ aggregate.Seeder = (*Store)(nil)
)

// New connects and pings the primary once.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	name := opts.Database
	if name == "" {
		name = DefaultDatabase
	}
	db := client.Database(name)
	return &Store{
		client:     client,
		items:      db.Collection(ItemCollection),
		checkItems: db.Collection(CheckItemCollection),
		aggregates: db.Collection(AggregateCollection),
	}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database. Used by integration tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.items.Database().Drop(ctx)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type aggregateDoc struct {
	ID        any           `bson:"_id"`
	Reference string        `bson:"reference"`
	Location  string        `bson:"location"`
	User      string        `bson:"user"`
	Type      string        `bson:"type"`
	DataType  string        `bson:"data-type"`
	Begin     time.Time     `bson:"bgn-timestamp"`
	End       time.Time     `bson:"end-timestamp"`
	Value     bson.RawValue `bson:"value"`
	Children  []string      `bson:"children"`
}

func (d aggregateDoc) record() (aggregate.Record, error) {
	r := aggregate.Record{
		ID:          idString(d.ID),
		Location:    d.Location,
		User:        d.User,
		Granularity: aggregate.Granularity(d.Type),
		DataKind:    aggregate.DataKind(d.DataType),
		Begin:       d.Begin.UTC(),
		End:         d.End.UTC(),
	}
	var err error
	if r.Reference, err = aggregate.ParseRef(d.Reference); err != nil {
		return r, &aggregate.RecordError{ID: r.ID, Err: err}
	}
	if r.Value, err = decodeValue(d.Value); err != nil {
		return r, &aggregate.RecordError{ID: r.ID, Err: err}
	}
	if r.Children, err = aggregate.ParseChildSet(d.Children); err != nil {
		return r, &aggregate.RecordError{ID: r.ID, Err: err}
	}
	return r, nil
}

func aggregateDocument(r aggregate.Record) bson.D {
	return bson.D{
		{Key: "_id", Value: r.ID},
		{Key: "reference", Value: r.Reference.String()},
		{Key: "location", Value: r.Location},
		{Key: "user", Value: r.User},
		{Key: "type", Value: string(r.Granularity)},
		{Key: "data-type", Value: string(r.DataKind)},
		{Key: "bgn-timestamp", Value: r.Begin.UTC()},
		{Key: "end-timestamp", Value: r.End.UTC()},
		{Key: "value", Value: r.Value.InexactFloat64()},
		{Key: "children", Value: r.Children.Strings()},
	}
}

// decodeValue accepts every numeric encoding the upstream writer has used.
func decodeValue(v bson.RawValue) (decimal.Decimal, error) {
	switch v.Type {
	case bsontype.Double:
		return decimal.NewFromFloat(v.Double()), nil
	case bsontype.Int32:
		return decimal.NewFromInt32(v.Int32()), nil
	case bsontype.Int64:
		return decimal.NewFromInt(v.Int64()), nil
	case bsontype.Decimal128:
		d, err := decimal.NewFromString(v.Decimal128().String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", aggregate.ErrInvalidValue, err)
		}
		return d, nil
	case bsontype.String:
		d, err := decimal.NewFromString(v.StringValue())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", aggregate.ErrInvalidValue, v.StringValue())
		}
		return d, nil
	case bsontype.Null, bsontype.Undefined, 0:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: bson type %s", aggregate.ErrInvalidValue, v.Type)
	}
}

var itemFields = map[string]bool{
	"_id":               true,
	"name":              true,
	"location":          true,
	"sale-department":   true,
	"master-department": true,
}

// itemFromDoc keeps the descriptive fields and every string array.
func itemFromDoc(doc bson.M) aggregate.Item {
	it := aggregate.Item{
		ID:               idString(doc["_id"]),
		Name:             stringField(doc, "name"),
		Location:         stringField(doc, "location"),
		SaleDepartment:   stringField(doc, "sale-department"),
		MasterDepartment: stringField(doc, "master-department"),
	}
	for k, v := range doc {
		if itemFields[k] {
			continue
		}
		arr, ok := v.(primitive.A)
		if !ok {
			continue
		}
		values := make([]string, 0, len(arr))
		for _, e := range arr {
			s, ok := e.(string)
			if !ok {
				values = nil
				break
			}
			values = append(values, s)
		}
		if values == nil {
			continue
		}
		if it.Lists == nil {
			it.Lists = make(map[string][]string)
		}
		it.Lists[k] = values
	}
	return it
}

func itemDocument(it aggregate.Item) bson.D {
	doc := bson.D{
		{Key: "_id", Value: it.ID},
		{Key: "name", Value: it.Name},
		{Key: "location", Value: it.Location},
		{Key: "sale-department", Value: it.SaleDepartment},
		{Key: "master-department", Value: it.MasterDepartment},
	}
	keys := make([]string, 0, len(it.Lists))
	for k := range it.Lists {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: it.Lists[k]})
	}
	return doc
}

type checkItemDoc struct {
	ID       any    `bson:"_id"`
	Item     string `bson:"item"`
	Location string `bson:"location"`
}

type groupDoc struct {
	Name             string `bson:"name"`
	Location         string `bson:"location"`
	SaleDepartment   string `bson:"saleDepartment"`
	MasterDepartment string `bson:"masterDepartment"`
	Count            int    `bson:"count"`
}

// =============================================================================
// SEEDER (aggregate.Seeder interface)
// =============================================================================

func (s *Store) InsertItems(ctx context.Context, items []aggregate.Item) error {
	docs := make([]bson.D, len(items))
	for i, it := range items {
		docs[i] = itemDocument(it)
	}
	return upsertAll(ctx, s.items, docs)
}

func (s *Store) InsertCheckItems(ctx context.Context, checkItems []aggregate.CheckItem) error {
	docs := make([]bson.D, len(checkItems))
	for i, ci := range checkItems {
		docs[i] = bson.D{
			{Key: "_id", Value: ci.ID},
			{Key: "item", Value: ci.Item.String()},
			{Key: "location", Value: ci.Location},
		}
	}
	return upsertAll(ctx, s.checkItems, docs)
}

func (s *Store) InsertAggregates(ctx context.Context, records []aggregate.Record) error {
	docs := make([]bson.D, len(records))
	for i, r := range records {
		docs[i] = aggregateDocument(r)
	}
	return upsertAll(ctx, s.aggregates, docs)
}

// upsertAll replaces documents by _id in one bulk write.
func upsertAll(ctx context.Context, coll *mongodriver.Collection, docs []bson.D) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongodriver.WriteModel, len(docs))
	for i, d := range docs {
		models[i] = mongodriver.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d[0].Value}).
			SetReplacement(d).
			SetUpsert(true)
	}
	if _, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to seed %s: %w", coll.Name(), err)
	}
	return nil
}

// Reset empties the three collections.
func (s *Store) Reset(ctx context.Context) error {
	for _, coll := range []*mongodriver.Collection{s.aggregates, s.checkItems, s.items} {
		if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("failed to reset %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// =============================================================================
// AGGREGATES (aggregate.AggregateStore interface)
// =============================================================================

func aggregateQuery(f aggregate.Filter) bson.M {
	q := bson.M{}
	if !f.Reference.IsZero() {
		q["reference"] = f.Reference.String()
	}
	if f.Location != "" {
		q["location"] = f.Location
	}
	if f.Granularity != "" {
		q["type"] = string(f.Granularity)
	}
	if f.DataKind != "" {
		q["data-type"] = string(f.DataKind)
	}
	if f.User != nil {
		q["user"] = *f.User
	}
	if f.Begin != nil {
		q["bgn-timestamp"] = f.Begin.UTC()
	}
	if f.End != nil {
		q["end-timestamp"] = f.End.UTC()
	}
	return q
}

func (s *Store) FindAggregates(ctx context.Context, f aggregate.Filter) ([]aggregate.Record, error) {
	cur, err := s.aggregates.Find(ctx, aggregateQuery(f), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer cur.Close(ctx)

	var records []aggregate.Record
	for cur.Next(ctx) {
		var doc aggregateDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode aggregate: %w", err)
		}
		r, err := doc.record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, cur.Err()
}

func (s *Store) SetReference(ctx context.Context, id string, ref aggregate.Ref) (aggregate.UpdateResult, error) {
	res, err := s.aggregates.UpdateOne(ctx, idFilter(id), bson.M{"$set": bson.M{"reference": ref.String()}})
	if err != nil {
		return aggregate.UpdateResult{}, fmt.Errorf("failed to set reference of %s: %w", id, err)
	}
	return updateResult(res), nil
}

func (s *Store) MergeValue(ctx context.Context, id string, value decimal.Decimal, children []aggregate.Ref) (aggregate.UpdateResult, error) {
	update := bson.M{
		"$set":      bson.M{"value": value.InexactFloat64()},
		"$addToSet": bson.M{"children": bson.M{"$each": aggregate.RefStrings(children)}},
	}
	res, err := s.aggregates.UpdateOne(ctx, idFilter(id), update)
	if err != nil {
		return aggregate.UpdateResult{}, fmt.Errorf("failed to merge value of %s: %w", id, err)
	}
	return updateResult(res), nil
}

func (s *Store) DeleteAggregate(ctx context.Context, id string) (int64, error) {
	res, err := s.aggregates.DeleteOne(ctx, idFilter(id))
	if err != nil {
		return 0, fmt.Errorf("failed to delete aggregate %s: %w", id, err)
	}
	return res.DeletedCount, nil
}

func (s *Store) DeleteAggregates(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.aggregates.DeleteMany(ctx, idsFilter(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete aggregates: %w", err)
	}
	return res.DeletedCount, nil
}

// =============================================================================
// ITEMS (aggregate.ItemStore interface)
// =============================================================================

// DuplicateGroups runs the grouping pipeline with disk use allowed.
func (s *Store) DuplicateGroups(ctx context.Context, limit int) ([]aggregate.ItemGroup, error) {
	pipeline := mongodriver.Pipeline{
		{{Key: "$match", Value: bson.M{"name": bson.M{"$ne": ""}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"name":             "$name",
				"location":         "$location",
				"saleDepartment":   "$sale-department",
				"masterDepartment": "$master-department",
			},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$match", Value: bson.M{"count": bson.M{"$gt": 1}}}},
		{{Key: "$project", Value: bson.M{
			"_id":              0,
			"name":             "$_id.name",
			"location":         "$_id.location",
			"saleDepartment":   "$_id.saleDepartment",
			"masterDepartment": "$_id.masterDepartment",
			"count":            1,
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "name", Value: 1},
			{Key: "location", Value: 1},
			{Key: "saleDepartment", Value: 1},
			{Key: "masterDepartment", Value: 1},
		}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	cur, err := s.items.Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("failed to group items: %w", err)
	}
	defer cur.Close(ctx)

	var groups []aggregate.ItemGroup
	for cur.Next(ctx) {
		var g groupDoc
		if err := cur.Decode(&g); err != nil {
			return nil, fmt.Errorf("failed to decode group: %w", err)
		}
		groups = append(groups, aggregate.ItemGroup{
			Name:             g.Name,
			Location:         g.Location,
			SaleDepartment:   g.SaleDepartment,
			MasterDepartment: g.MasterDepartment,
			Count:            g.Count,
		})
	}
	return groups, cur.Err()
}

func (s *Store) FindItems(ctx context.Context, f aggregate.ItemFilter) ([]aggregate.Item, error) {
	q := bson.M{}
	if len(f.IDs) > 0 {
		q = idsFilter(f.IDs)
	}
	for k, v := range map[string]string{
		"name":              f.Name,
		"location":          f.Location,
		"sale-department":   f.SaleDepartment,
		"master-department": f.MasterDepartment,
	} {
		if v != "" {
			q[k] = v
		}
	}

	cur, err := s.items.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer cur.Close(ctx)

	var items []aggregate.Item
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		items = append(items, itemFromDoc(doc))
	}
	return items, cur.Err()
}

func (s *Store) UpdateItemLists(ctx context.Context, id string, lists map[string][]string) (aggregate.UpdateResult, error) {
	set := bson.M{}
	for k, v := range lists {
		set[k] = v
	}
	if len(set) == 0 {
		return aggregate.UpdateResult{}, nil
	}
	res, err := s.items.UpdateOne(ctx, idFilter(id), bson.M{"$set": set})
	if err != nil {
		return aggregate.UpdateResult{}, fmt.Errorf("failed to update item %s: %w", id, err)
	}
	return updateResult(res), nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) (int64, error) {
	res, err := s.items.DeleteOne(ctx, idFilter(id))
	if err != nil {
		return 0, fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return res.DeletedCount, nil
}

// =============================================================================
// CHECK ITEMS (aggregate.CheckItemStore interface)
// =============================================================================

func (s *Store) CountCheckItems(ctx context.Context, item aggregate.Ref) (int64, error) {
	n, err := s.checkItems.CountDocuments(ctx, bson.M{"item": item.String()})
	if err != nil {
		return 0, fmt.Errorf("failed to count check items: %w", err)
	}
	return n, nil
}

func (s *Store) FindCheckItems(ctx context.Context, item aggregate.Ref) ([]aggregate.CheckItem, error) {
	cur, err := s.checkItems.Find(ctx, bson.M{"item": item.String()}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query check items: %w", err)
	}
	defer cur.Close(ctx)

	var result []aggregate.CheckItem
	for cur.Next(ctx) {
		var doc checkItemDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode check item: %w", err)
		}
		ref, err := aggregate.ParseRef(doc.Item)
		if err != nil {
			return nil, fmt.Errorf("check item %s: %w", idString(doc.ID), err)
		}
		result = append(result, aggregate.CheckItem{ID: idString(doc.ID), Item: ref, Location: doc.Location})
	}
	return result, cur.Err()
}

func (s *Store) RepointCheckItems(ctx context.Context, from, to aggregate.Ref) (aggregate.UpdateResult, error) {
	res, err := s.checkItems.UpdateMany(ctx,
		bson.M{"item": from.String()},
		bson.M{"$set": bson.M{"item": to.String()}},
	)
	if err != nil {
		return aggregate.UpdateResult{}, fmt.Errorf("failed to repoint check items: %w", err)
	}
	return updateResult(res), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// idFilter matches id as a string and, when it parses, as an ObjectID.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

func idsFilter(ids []string) bson.M {
	values := make(bson.A, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			values = append(values, oid)
		}
	}
	return bson.M{"_id": bson.M{"$in": values}}
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func stringField(doc bson.M, key string) string {
	s, _ := doc[key].(string)
	return s
}

func updateResult(res *mongodriver.UpdateResult) aggregate.UpdateResult {
	if res == nil {
		return aggregate.UpdateResult{}
	}
	return aggregate.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}
}
