package dynamo

import (
	"time"

	"github.com/zlnvch/codeverse/models"
)

type dynamoUser struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	Id           string `dynamodbav:"Id"`
	Username     string `dynamodbav:"Username"`
	PasswordHash string `dynamodbav:"PasswordHash"`
	Provider     string `dynamodbav:"Provider"`
	ProviderId   string `dynamodbav:"ProviderId"`
	Created      int64  `dynamodbav:"Created"`
}

// Map domain User -> Dynamo
func userToDynamo(u models.User) dynamoUser {
	return dynamoUser{
		PK:           "USER#" + u.Username,
		SK:           "PROFILE",
		Id:           u.Id,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Provider:     u.Provider,
		ProviderId:   u.ProviderId,
		Created:      u.Created,
	}
}

// Map Dynamo -> domain User
func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:           du.Id,
		Username:     du.Username,
		PasswordHash: du.PasswordHash,
		Provider:     du.Provider,
		ProviderId:   du.ProviderId,
		Created:      du.Created,
	}
}

type dynamoDocMeta struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	DocId    string `dynamodbav:"DocId"`
	OwnerId  string `dynamodbav:"OwnerId"`
	Title    string `dynamodbav:"Title"`
	Content  string `dynamodbav:"Content"`
	Language string `dynamodbav:"Language"`
	Created  int64  `dynamodbav:"Created"`
	Updated  int64  `dynamodbav:"Updated"`
}

// dynamoDocRow covers both shapes returned by a DOC#<id> partition query:
// the META row and GRANT#<uid> rows. Attributes absent on a given row
// unmarshal to zero values.
type dynamoDocRow struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	DocId     string `dynamodbav:"DocId"`
	OwnerId   string `dynamodbav:"OwnerId"`
	Title     string `dynamodbav:"Title"`
	Content   string `dynamodbav:"Content"`
	Language  string `dynamodbav:"Language"`
	Created   int64  `dynamodbav:"Created"`
	Updated   int64  `dynamodbav:"Updated"`
	GranteeId string `dynamodbav:"GranteeId"`
}

type dynamoGrant struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	GranteeId string `dynamodbav:"GranteeId"`
}

// Map domain Document -> Dynamo META row (grants are separate items)
func docMetaToDynamo(d models.Document) dynamoDocMeta {
	return dynamoDocMeta{
		PK:       "DOC#" + d.Id,
		SK:       "META",
		DocId:    d.Id,
		OwnerId:  d.OwnerId,
		Title:    d.Title,
		Content:  d.Content,
		Language: d.Language,
		Created:  d.Created,
		Updated:  d.Updated,
	}
}

// Map Dynamo META row -> domain Document
func docFromDynamo(dm dynamoDocMeta, grants []string) models.Document {
	return models.Document{
		Id:         dm.DocId,
		OwnerId:    dm.OwnerId,
		Title:      dm.Title,
		Content:    dm.Content,
		Language:   dm.Language,
		Created:    dm.Created,
		Updated:    dm.Updated,
		SharedWith: grants,
	}
}

func docFromDynamoRow(row dynamoDocRow, grants []string) models.Document {
	return models.Document{
		Id:         row.DocId,
		OwnerId:    row.OwnerId,
		Title:      row.Title,
		Content:    row.Content,
		Language:   row.Language,
		Created:    row.Created,
		Updated:    row.Updated,
		SharedWith: grants,
	}
}

type dynamoRefreshToken struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Token       string `dynamodbav:"Token"`
	TokenUserId string `dynamodbav:"TokenUserId"`
	IssuedAt    int64  `dynamodbav:"IssuedAt"`
	Expires     int64  `dynamodbav:"Expires"`
	Revoked     bool   `dynamodbav:"Revoked"`
}

// Map domain RefreshToken -> Dynamo
func tokenToDynamo(t models.RefreshToken) dynamoRefreshToken {
	return dynamoRefreshToken{
		PK:          "RTOKEN#" + t.Token,
		SK:          "TOKEN",
		Token:       t.Token,
		TokenUserId: t.UserId,
		IssuedAt:    t.IssuedAt.Unix(),
		Expires:     t.Expires.Unix(),
		Revoked:     t.Revoked,
	}
}

// Map Dynamo -> domain RefreshToken
func tokenFromDynamo(dt dynamoRefreshToken) models.RefreshToken {
	return models.RefreshToken{
		Token:    dt.Token,
		UserId:   dt.TokenUserId,
		IssuedAt: time.Unix(dt.IssuedAt, 0).UTC(),
		Expires:  time.Unix(dt.Expires, 0).UTC(),
		Revoked:  dt.Revoked,
	}
}
